package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

func parse(t *testing.T, uri string) *endpoint.Endpoint {
	t.Helper()
	ep, err := endpoint.Parse(uri, nil)
	require.NoError(t, err)
	return ep
}

func TestTimerEmitsSequentialTicks(t *testing.T) {
	src, err := New(parse(t, "timer://50ms"), endpoint.Dependencies{Route: "ticks"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []*message.Message
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, endpoint.ProducerFunc(func(_ context.Context, msg *message.Message) error {
			got = append(got, msg)
			if len(got) == 4 {
				cancel()
			}
			return nil
		}))
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not produce 4 ticks in time")
	}

	require.Len(t, got, 4)
	var last time.Time
	for i, msg := range got {
		id, ok := msg.Float("tick_id")
		require.True(t, ok)
		assert.Equal(t, float64(i), id, "tick ids are sequential from 0")
		assert.Equal(t, "ticks", msg.Route())
		assert.Equal(t, "timer://50ms", msg.Source())

		ts := msg.Timestamp()
		require.False(t, ts.IsZero())
		assert.True(t, ts.After(last) || ts.Equal(last), "timestamps monotonically increase")
		last = ts
	}

	require.NoError(t, src.Stop(time.Second))
}

func TestTimerFirstTickAfterOnePeriod(t *testing.T) {
	src, err := New(parse(t, "timer://80ms"), endpoint.Dependencies{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	var firstAt time.Time
	done := make(chan error, 1)
	go func() {
		done <- src.Start(ctx, endpoint.ProducerFunc(func(context.Context, *message.Message) error {
			firstAt = time.Now()
			cancel()
			return nil
		}))
	}()
	<-done

	elapsed := firstAt.Sub(start)
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond, "no tick before one period")
}

func TestTimerStopsOnEmitError(t *testing.T) {
	src, err := New(parse(t, "timer://10ms"), endpoint.Dependencies{})
	require.NoError(t, err)

	wantErr := context.DeadlineExceeded
	err = src.Start(context.Background(), endpoint.ProducerFunc(func(context.Context, *message.Message) error {
		return wantErr
	}))
	assert.ErrorIs(t, err, wantErr)
}

func TestTimerInvalidPeriod(t *testing.T) {
	for _, uri := range []string{"timer://", "timer://soon", "timer://-5s", "timer://0s"} {
		_, err := New(parse(t, uri), endpoint.Dependencies{})
		require.Error(t, err, "uri %q", uri)
		assert.True(t, errors.IsKind(err, errors.KindConfig))
	}
}
