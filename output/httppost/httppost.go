// Package httppost provides the http:// sink: each message is sent as an
// HTTP request with the body serialized as JSON. The method defaults to POST
// and can be overridden with ?method=, the content type with ?content_type=.
// A non-2xx response is a delivery failure.
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Sink posts messages to an HTTP endpoint.
type Sink struct {
	url         string
	method      string
	contentType string
	client      *http.Client
	logger      *slog.Logger

	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates an HTTP sink from a resolved endpoint.
func New(ep *endpoint.Endpoint, deps endpoint.Dependencies) (endpoint.Sink, error) {
	if ep.Host == "" {
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: http sink needs a host", errors.ErrInvalidConfig),
			"http-sink", "New", "parse address")
	}

	host := ep.Host
	if ep.Port != 0 {
		host = fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	}
	url := fmt.Sprintf("http://%s%s", host, ep.Path)

	method := strings.ToUpper(ep.Param("method", http.MethodPost))
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, errors.WrapConfig(
			fmt.Errorf("%w: unsupported method %q", errors.ErrInvalidConfig, method),
			"http-sink", "New", "parse method")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Sink{
		url:         url,
		method:      method,
		contentType: ep.Param("content_type", "application/json"),
		client:      &http.Client{Timeout: timeout},
		logger:      deps.GetLoggerWithComponent("http-sink"),
	}, nil
}

// Deliver implements endpoint.Sink.
func (s *Sink) Deliver(ctx context.Context, msg *message.Message) error {
	payload, err := msg.MarshalJSON()
	if err != nil {
		return errors.WrapDelivery(err, "http-sink", "Deliver", "encode payload")
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(payload))
	if err != nil {
		return errors.WrapDelivery(err, "http-sink", "Deliver", "build request")
	}
	req.Header.Set("Content-Type", s.contentType)

	resp, err := s.client.Do(req)
	if err != nil {
		s.failed.Add(1)
		return errors.WrapDelivery(err, "http-sink", "Deliver", "send request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.failed.Add(1)
		return errors.WrapDelivery(
			fmt.Errorf("%w: %s returned %d", errors.ErrDeliveryFailed, s.url, resp.StatusCode),
			"http-sink", "Deliver", "check response")
	}

	s.delivered.Add(1)
	return nil
}

// Stop implements endpoint.Sink.
func (s *Sink) Stop(time.Duration) error {
	s.client.CloseIdleConnections()
	return nil
}
