package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/message"
)

func TestFileSinkAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.jsonl")
	ep, err := endpoint.Parse("file://"+path, nil)
	require.NoError(t, err)

	sink, err := New(ep, endpoint.Dependencies{Route: "orders"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, message.FromFields(map[string]any{"body": "one"})))
	require.NoError(t, sink.Deliver(ctx, message.FromFields(map[string]any{"body": "two"})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestFileSinkDirectoryModeGeneratesNames(t *testing.T) {
	dir := t.TempDir()
	ep, err := endpoint.Parse("file://"+dir+"/", nil)
	require.NoError(t, err)

	sink, err := New(ep, endpoint.Dependencies{Route: "orders"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Deliver(ctx, message.FromFields(map[string]any{"body": "a"})))
	require.NoError(t, sink.Deliver(ctx, message.FromFields(map[string]any{"body": "b"})))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "one file per message")
	for _, entry := range entries {
		assert.True(t, strings.HasPrefix(entry.Name(), "orders-"))
		assert.True(t, strings.HasSuffix(entry.Name(), ".json"))
	}
}

func TestFileSinkRequiresPath(t *testing.T) {
	ep, err := endpoint.Parse("file://", nil)
	require.NoError(t, err)
	_, err = New(ep, endpoint.Dependencies{})
	require.Error(t, err)
}
