package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

func sinkFor(t *testing.T, server *httptest.Server, query string) endpoint.Sink {
	t.Helper()
	uri := "http" + strings.TrimPrefix(server.URL, "http") + query
	ep, err := endpoint.Parse(uri, nil)
	require.NoError(t, err)
	sink, err := New(ep, endpoint.Dependencies{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return sink
}

func TestHTTPSinkPostsJSON(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := sinkFor(t, server, "")
	msg := message.FromFields(map[string]any{"n": 21.0})
	require.NoError(t, sink.Deliver(context.Background(), msg))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, 21.0, decoded["n"])
}

func TestHTTPSinkMethodOverride(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := sinkFor(t, server, "?method=put")
	require.NoError(t, sink.Deliver(context.Background(), message.FromFields(map[string]any{})))
	assert.Equal(t, http.MethodPut, gotMethod)
}

func TestHTTPSinkNon2xxIsDeliveryError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	sink := sinkFor(t, server, "")
	err := sink.Deliver(context.Background(), message.FromFields(map[string]any{}))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDelivery))
	assert.True(t, errors.Is(err, errors.ErrDeliveryFailed))
}

func TestHTTPSinkConnectionRefused(t *testing.T) {
	ep, err := endpoint.Parse("http://127.0.0.1:1/unreachable", nil)
	require.NoError(t, err)
	sink, err := New(ep, endpoint.Dependencies{Timeout: time.Second})
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), message.FromFields(map[string]any{}))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDelivery))
}

func TestHTTPSinkConfigRejections(t *testing.T) {
	for _, uri := range []string{"http://", "http://host?method=trace"} {
		t.Run(uri, func(t *testing.T) {
			ep, err := endpoint.Parse(uri, nil)
			require.NoError(t, err)
			_, err = New(ep, endpoint.Dependencies{})
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}
