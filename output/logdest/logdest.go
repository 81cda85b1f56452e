// Package logdest provides the log:// sink: one line per message to stdout,
// or to a file when the URI carries a path.
package logdest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Sink writes the stringified message body, one line per message.
type Sink struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	out  io.Writer
	file *os.File

	written atomic.Int64
}

// New creates a log sink from a resolved endpoint. log:// writes to stdout;
// log:///var/log/routeflow.out appends to that file.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	return &Sink{
		path:   ep.FilePath(),
		logger: deps.GetLoggerWithComponent("log-sink"),
	}, nil
}

// Deliver implements endpoint.Sink.
func (s *Sink) Deliver(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		if err := s.open(); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(s.out, "%s\n", msg.Render()); err != nil {
		return errors.WrapDelivery(err, "log-sink", "Deliver", "write line")
	}
	s.written.Add(1)
	return nil
}

// open lazily picks stdout or the configured file on first delivery.
func (s *Sink) open() error {
	if s.path == "" {
		s.out = os.Stdout
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapDelivery(err, "log-sink", "Deliver", "create log directory")
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WrapDelivery(err, "log-sink", "Deliver", "open log file")
	}
	s.file = file
	s.out = file
	return nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.out = nil
		return err
	}
	return nil
}
