// Package file provides the file:// sink: write each message body to the
// configured path. A path ending in / is treated as a directory and every
// message gets a generated filename inside it; otherwise messages append to
// the one file. Parent directories are created.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Sink writes message bodies to the filesystem.
type Sink struct {
	path   string
	isDir  bool
	route  string
	logger *slog.Logger

	mu      sync.Mutex
	written atomic.Int64
}

// New creates a file sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	path := ep.FilePath()
	if path == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: file sink needs a path", errors.ErrInvalidConfig),
			"file-sink", "New", "parse path")
	}

	return &Sink{
		path:   path,
		isDir:  strings.HasSuffix(path, "/"),
		route:  deps.Route,
		logger: deps.GetLoggerWithComponent("file-sink"),
	}, nil
}

// Deliver implements endpoint.Sink.
func (s *Sink) Deliver(_ context.Context, msg *message.Message) error {
	target := s.path
	if s.isDir {
		target = filepath.Join(s.path, fmt.Sprintf("%s-%s.json", s.route, uuid.NewString()))
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapDelivery(err, "file-sink", "Deliver", "create parent directories")
		}
	}

	body := append(msg.Render(), '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDir {
		if err := os.WriteFile(target, body, 0o644); err != nil {
			return errors.WrapDelivery(err, "file-sink", "Deliver", "write file")
		}
	} else {
		file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.WrapDelivery(err, "file-sink", "Deliver", "open file")
		}
		_, err = file.Write(body)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return errors.WrapDelivery(err, "file-sink", "Deliver", "write file")
		}
	}

	s.written.Add(1)
	return nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	return nil
}
