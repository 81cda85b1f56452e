// Package file provides the file:// source. The endpoint path is a glob
// pattern; on start the source emits one message per currently-matching
// file, then watches the pattern's directory for newly-created matches.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// settleDelay gives writers a moment to finish before the new file is read.
const settleDelay = 100 * time.Millisecond

// Source emits one message per matching file.
type Source struct {
	pattern string
	uri     string
	route   string
	logger  *slog.Logger

	watcher *fsnotify.Watcher
}

// New creates a file source from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	pattern := ep.FilePath()
	if pattern == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: file URI needs a path", errors.ErrInvalidConfig),
			"file-source", "New", "parse pattern")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: bad glob %q", errors.ErrInvalidConfig, pattern),
			"file-source", "New", "parse pattern")
	}

	return &Source{
		pattern: pattern,
		uri:     ep.Raw,
		route:   deps.Route,
		logger:  deps.GetLoggerWithComponent("file-source"),
	}, nil
}

// Start implements endpoint.Source: initial snapshot, then OS-level watch.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	matches, err := filepath.Glob(s.pattern)
	if err != nil {
		return errors.WrapSourceFatal(err, "file-source", "Start", "initial glob")
	}
	s.logger.Info("file source started", "pattern", s.pattern, "initial_matches", len(matches))

	for _, path := range matches {
		if err := s.emitFile(ctx, out, path); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapSourceFatal(err, "file-source", "Start", "create watcher")
	}
	s.watcher = watcher
	defer watcher.Close()

	dir := filepath.Dir(s.pattern)
	if err := watcher.Add(dir); err != nil {
		return errors.WrapSourceFatal(err, "file-source", "Start", "watch directory")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.WrapSourceFatal(
					fmt.Errorf("watcher event stream closed"),
					"file-source", "Start", "watch events")
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if match, _ := filepath.Match(s.pattern, event.Name); !match {
				continue
			}
			// Let the writer finish before reading.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleDelay):
			}
			if err := s.emitFile(ctx, out, event.Name); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.WrapSourceFatal(
					fmt.Errorf("watcher error stream closed"),
					"file-source", "Start", "watch errors")
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

// emitFile reads one file and emits its message. Unreadable files are
// logged and skipped; a vanished file is not a route failure.
func (s *Source) emitFile(ctx context.Context, out endpoint.Producer, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err != nil {
			s.logger.Warn("skipping unreadable file", "path", path, "error", err)
		}
		return nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("skipping unreadable file", "path", path, "error", err)
		return nil
	}

	msg := message.New(s.route, s.uri).
		Set("path", path).
		Set("size", info.Size()).
		Set("content_bytes", content)
	if utf8.Valid(content) {
		msg.Set("content_utf8", string(content))
	}

	return out.Emit(ctx, msg)
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}
