package transform

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

func newTransform(t *testing.T, template string) *Processor {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"type": "transform", "template": template})
	require.NoError(t, err)
	p, err := New(raw, endpoint.Dependencies{})
	require.NoError(t, err)
	return p.(*Processor)
}

func TestTransformRendersBody(t *testing.T) {
	p := newTransform(t, "Hi {{name}} ({{n}})")
	msg := message.FromFields(map[string]any{"name": "Ada", "n": 3.0})

	out, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, "Hi Ada (3)", out[0].Body())
	// Input keys preserved.
	assert.Equal(t, "Ada", out[0].String("name"))
	n, _ := out[0].Float("n")
	assert.Equal(t, 3.0, n)

	// Input message untouched.
	_, hadBody := msg.Get(message.KeyBody)
	assert.False(t, hadBody)
}

func TestTransformMissingVarRendersEmpty(t *testing.T) {
	p := newTransform(t, "value=<{{absent}}>")

	out, err := p.Process(context.Background(), message.FromFields(map[string]any{}))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "value=<>", out[0].Body())
}

func TestTransformRequiredVarError(t *testing.T) {
	p := newTransform(t, "{{absent|required}}")

	out, err := p.Process(context.Background(), message.FromFields(map[string]any{}))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.IsKind(err, errors.KindProcessing))
	assert.True(t, errors.Is(err, errors.ErrRequiredVar))
}

func TestTransformConfigError(t *testing.T) {
	_, err := New(json.RawMessage(`{"type":"transform"}`), endpoint.Dependencies{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
