package udp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/metric"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestUDPSourceEmitsDatagrams(t *testing.T) {
	port := freeUDPPort(t)
	ep, err := endpoint.Parse(fmt.Sprintf("udp://127.0.0.1:%d", port), nil)
	require.NoError(t, err)

	src, err := New(ep, endpoint.Dependencies{Route: "telemetry", Metrics: metric.NewMetricsRegistry()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan *message.Message, 8)
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, endpoint.ProducerFunc(func(_ context.Context, msg *message.Message) error {
			msgs <- msg
			return nil
		}))
	}()

	// Give the listener a moment, then send.
	time.Sleep(100 * time.Millisecond)
	client, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("hello datagram"))
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "hello datagram", msg.Body())
		assert.Equal(t, "telemetry", msg.Route())
		payload, ok := msg.Get("payload")
		require.True(t, ok)
		assert.Equal(t, []byte("hello datagram"), payload)
		assert.NotEmpty(t, msg.String("remote_addr"))
	case <-time.After(3 * time.Second):
		t.Fatal("datagram was not emitted")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestUDPSourceRequiresPort(t *testing.T) {
	ep, err := endpoint.Parse("udp://127.0.0.1", nil)
	require.NoError(t, err)
	_, err = New(ep, endpoint.Dependencies{})
	require.Error(t, err)
}

func TestUDPSourceBindConflictFailsStart(t *testing.T) {
	port := freeUDPPort(t)
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer blocker.Close()

	ep, err := endpoint.Parse(fmt.Sprintf("udp://127.0.0.1:%d", port), nil)
	require.NoError(t, err)
	src, err := New(ep, endpoint.Dependencies{})
	require.NoError(t, err)

	err = src.Start(context.Background(), endpoint.ProducerFunc(func(context.Context, *message.Message) error { return nil }))
	require.Error(t, err)
}
