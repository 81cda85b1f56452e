package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

func TestWSSinkWritesJSONFrames(t *testing.T) {
	frames := make(chan []byte, 4)
	upgrader := gorilla.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer server.Close()

	uri := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
	ep, err := endpoint.Parse(uri, nil)
	require.NoError(t, err)

	sink, err := New(ep, endpoint.Dependencies{})
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), message.FromFields(map[string]any{"v": 1.0})))
	require.NoError(t, sink.Deliver(context.Background(), message.FromFields(map[string]any{"v": 2.0})))

	for want := 1.0; want <= 2.0; want++ {
		select {
		case frame := <-frames:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal(frame, &decoded))
			assert.Equal(t, want, decoded["v"])
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received")
		}
	}

	require.NoError(t, sink.Stop(time.Second))
}

func TestWSSinkDialFailureIsDeliveryError(t *testing.T) {
	ep, err := endpoint.Parse("ws://127.0.0.1:1/feed", nil)
	require.NoError(t, err)
	sink, err := New(ep, endpoint.Dependencies{})
	require.NoError(t, err)

	err = sink.Deliver(context.Background(), message.FromFields(map[string]any{}))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDelivery))
}

func TestWSSinkRequiresHost(t *testing.T) {
	ep, err := endpoint.Parse("ws://", nil)
	require.NoError(t, err)
	_, err = New(ep, endpoint.Dependencies{})
	require.Error(t, err)
}
