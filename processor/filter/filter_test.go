package filter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

func newFilter(t *testing.T, condition string) *Processor {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"type": "filter", "condition": condition})
	require.NoError(t, err)
	p, err := New(raw, endpoint.Dependencies{})
	require.NoError(t, err)
	return p.(*Processor)
}

func TestFilterPassAndDrop(t *testing.T) {
	p := newFilter(t, "{{v}} > 10")

	inputs := []float64{5, 15, 8, 20}
	var passed []float64
	for _, v := range inputs {
		msg := message.FromFields(map[string]any{"v": v})
		out, err := p.Process(context.Background(), msg)
		require.NoError(t, err)
		if len(out) == 1 {
			f, _ := out[0].Float("v")
			passed = append(passed, f)
			assert.Same(t, msg, out[0], "pass forwards unchanged")
		}
	}
	assert.Equal(t, []float64{15, 20}, passed)
}

func TestFilterEvaluationErrorDrops(t *testing.T) {
	p := newFilter(t, "{{missing}} > 10")

	out, err := p.Process(context.Background(), message.FromFields(map[string]any{}))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.IsKind(err, errors.KindProcessing))
}

func TestFilterConfigErrors(t *testing.T) {
	_, err := New(json.RawMessage(`{"type":"filter"}`), endpoint.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	_, err = New(json.RawMessage(`{"type":"filter","condition":"{{v}} >"}`), endpoint.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
