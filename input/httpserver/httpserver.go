// Package httpserver provides the http:// source: a listener that delivers
// each incoming request as a message carrying method, path, headers, query
// parameters, and body.
package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/c360/routeflow/endpoint"
	rferrors "github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// maxBodyBytes bounds request bodies so a single client cannot exhaust
// memory.
const maxBodyBytes = 8 << 20

// Source listens on host:port and emits one message per request.
type Source struct {
	addr   string
	path   string
	uri    string
	route  string
	logger *slog.Logger

	received atomic.Int64
	rejected atomic.Int64
}

// New creates an HTTP listener source from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Source, error) {
	if ep.Host == "" && ep.Port == 0 {
		return nil, rferrors.WrapConfig(
			fmt.Errorf("%w: http source needs host:port", rferrors.ErrInvalidConfig),
			"http-source", "New", "parse address")
	}

	return &Source{
		addr:   fmt.Sprintf("%s:%d", ep.Host, ep.Port),
		path:   ep.Path,
		uri:    ep.Raw,
		route:  deps.Route,
		logger: deps.GetLoggerWithComponent("http-source"),
	}, nil
}

// Start implements endpoint.Source. It serves until cancellation.
func (s *Source) Start(ctx context.Context, out endpoint.Producer) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := func(c *gin.Context) { s.handle(ctx, c, out) }
	if s.path == "" || s.path == "/" {
		router.NoRoute(handler)
	} else {
		router.Any(s.path, handler)
		router.Any(s.path+"/*rest", handler)
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	s.logger.Info("http source listening", "addr", s.addr, "path", s.path)

	select {
	case err := <-serveErr:
		return rferrors.WrapSourceFatal(err, "http-source", "Start", "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http source shutdown incomplete", "error", err)
	}
	<-serveErr
	return ctx.Err()
}

// handle converts one request into a message and enqueues it, responding
// 202 on accept, 429 when the route queue is full, and 503 once the route is
// shutting down.
func (s *Source) handle(ctx context.Context, c *gin.Context, out endpoint.Producer) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	headers := make(map[string]any, len(c.Request.Header))
	for name := range c.Request.Header {
		headers[name] = c.Request.Header.Get(name)
	}
	query := make(map[string]any)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			query[key] = values[0]
		}
	}

	msg := message.New(s.route, s.uri).
		Set("method", c.Request.Method).
		Set("path", c.Request.URL.Path).
		Set("headers", headers).
		Set("query", query).
		Set("remote_addr", c.ClientIP()).
		Set(message.KeyBody, string(body))

	if ctx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "route shutting down"})
		return
	}

	// Request goroutines must not block on a full queue; the drop is
	// counted and reported back to the client.
	if !out.TryEmit(msg) {
		s.rejected.Add(1)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "queue full"})
		return
	}

	s.received.Add(1)
	c.JSON(http.StatusAccepted, gin.H{"id": msg.ID()})
}

// Stop implements endpoint.Source.
func (s *Source) Stop(time.Duration) error {
	return nil
}
