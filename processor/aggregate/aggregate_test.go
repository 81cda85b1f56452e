package aggregate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
	"github.com/c360/routeflow/processor"
)

func newAggregate(t *testing.T, cfg Config) *Processor {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	p, err := New(raw, endpoint.Dependencies{Route: "agg-test"})
	require.NoError(t, err)
	return p.(*Processor)
}

func msgWith(fields map[string]any) *message.Message {
	return message.FromFields(fields)
}

func TestAggregateImplementsStateful(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "1s", MaxSize: 3})
	var _ processor.Stateful = p
}

func TestSizeTriggeredFlush(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "1h", MaxSize: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		out, err := p.Process(ctx, msgWith(map[string]any{"n": float64(i)}))
		require.NoError(t, err)
		assert.Empty(t, out, "buffering below max_size")
	}

	out, err := p.Process(ctx, msgWith(map[string]any{"n": 2.0}))
	require.NoError(t, err)
	require.Len(t, out, 1)

	agg := out[0]
	count, _ := agg.Float("count")
	assert.Equal(t, 3.0, count)

	items, ok := agg.Get("items")
	require.True(t, ok)
	list := items.([]any)
	require.Len(t, list, 3)
	// Input order preserved.
	for i, item := range list {
		fields := item.(map[string]any)
		assert.Equal(t, float64(i), fields["n"])
	}

	assert.NotEmpty(t, agg.String("window_start"))
	assert.NotEmpty(t, agg.String("window_end"))

	// Window reset: next message opens a fresh one.
	out, err = p.Process(ctx, msgWith(map[string]any{"n": 9.0}))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTimeoutTriggeredFlush(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "20ms", MaxSize: 100})
	ctx := context.Background()

	out, err := p.Process(ctx, msgWith(map[string]any{"n": 1.0}))
	require.NoError(t, err)
	assert.Empty(t, out)

	deadline, ok := p.NextDeadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 15*time.Millisecond)

	// Not yet due.
	assert.Empty(t, p.FlushDue(ctx, time.Now()))

	flushed := p.FlushDue(ctx, time.Now().Add(25*time.Millisecond))
	require.Len(t, flushed, 1)
	count, _ := flushed[0].Float("count")
	assert.Equal(t, 1.0, count)

	_, ok = p.NextDeadline()
	assert.False(t, ok, "no windows open after flush")
}

func TestGroupByKeepsIndependentWindows(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "1h", MaxSize: 2, GroupBy: "device"})
	ctx := context.Background()

	out, err := p.Process(ctx, msgWith(map[string]any{"device": "a", "n": 1.0}))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = p.Process(ctx, msgWith(map[string]any{"device": "b", "n": 2.0}))
	require.NoError(t, err)
	assert.Empty(t, out, "group b has its own window")

	out, err = p.Process(ctx, msgWith(map[string]any{"device": "a", "n": 3.0}))
	require.NoError(t, err)
	require.Len(t, out, 1, "group a reached max_size")
	assert.Equal(t, "a", out[0].String("group"))

	// Group b still buffered; flush-all drains it.
	rest := p.FlushAll(ctx)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].String("group"))
}

func TestMissingGroupKeyUsesEmptyGroup(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "1h", MaxSize: 2, GroupBy: "device"})
	ctx := context.Background()

	_, err := p.Process(ctx, msgWith(map[string]any{"n": 1.0}))
	require.NoError(t, err)
	out, err := p.Process(ctx, msgWith(map[string]any{"n": 2.0}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "", out[0].String("group"))
}

func TestCountStrategyOmitsItems(t *testing.T) {
	p := newAggregate(t, Config{Strategy: StrategyCount, Timeout: "1h", MaxSize: 2})
	ctx := context.Background()

	_, err := p.Process(ctx, msgWith(map[string]any{"n": 1.0}))
	require.NoError(t, err)
	out, err := p.Process(ctx, msgWith(map[string]any{"n": 2.0}))
	require.NoError(t, err)
	require.Len(t, out, 1)

	count, _ := out[0].Float("count")
	assert.Equal(t, 2.0, count)
	_, hasItems := out[0].Get("items")
	assert.False(t, hasItems)
}

func TestFlushAllEmitsInOpenOrder(t *testing.T) {
	p := newAggregate(t, Config{Timeout: "1h", MaxSize: 10, GroupBy: "g"})
	ctx := context.Background()

	_, err := p.Process(ctx, msgWith(map[string]any{"g": "first"}))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = p.Process(ctx, msgWith(map[string]any{"g": "second"}))
	require.NoError(t, err)

	out := p.FlushAll(ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].String("group"))
	assert.Equal(t, "second", out[1].String("group"))

	assert.Empty(t, p.FlushAll(ctx), "flush-all is single-shot")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  string
	}{
		{"unknown strategy", `{"strategy":"windowed","timeout":"1s","max_size":3}`},
		{"zero max_size", `{"timeout":"1s","max_size":0}`},
		{"negative max_size", `{"timeout":"1s","max_size":-1}`},
		{"missing timeout", `{"max_size":3}`},
		{"bad timeout", `{"timeout":"soon","max_size":3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(json.RawMessage(tt.cfg), endpoint.Dependencies{})
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}
