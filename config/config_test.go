package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/errors"
)

const sampleDoc = `
routes:
  - name: ticks
    from: "timer://500ms"
    processors:
      - type: filter
        condition: "{{tick_id}} > 2"
      - type: external
        command: ["python3", "scripts/score.py"]
        config:
          threshold: 0.5
    to: "log://"
  - name: files
    from: "file:///var/spool/in/*.json"
    to:
      - "file:///var/spool/out/"
      - "mqtt://broker:1883/files"
env_vars:
  - SMTP_HOST
settings:
  max_concurrent_routes: 3
  default_timeout: 10
`

func TestParseDocument(t *testing.T) {
	env := EnvSnapshot{"SMTP_HOST": "mail.local"}

	doc, err := Parse([]byte(sampleDoc), env)
	require.NoError(t, err)
	require.Len(t, doc.Routes, 2)

	ticks := doc.Routes[0]
	assert.Equal(t, "ticks", ticks.Name)
	assert.Equal(t, "timer://500ms", ticks.From)
	require.Len(t, ticks.Processors, 2)
	assert.Equal(t, "filter", ticks.Processors[0].Type)
	assert.Equal(t, "external", ticks.Processors[1].Type)
	assert.Equal(t, StringList{"log://"}, ticks.To)

	// Raw processor config survives for the factory.
	var ext struct {
		Command []string       `json:"command"`
		Config  map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(ticks.Processors[1].Raw, &ext))
	assert.Equal(t, []string{"python3", "scripts/score.py"}, ext.Command)
	assert.Equal(t, 0.5, ext.Config["threshold"])

	files := doc.Routes[1]
	assert.Len(t, files.To, 2)
}

func TestParseAppliesDefaults(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc), EnvSnapshot{"SMTP_HOST": "x"})
	require.NoError(t, err)

	// Explicit values preserved, gaps defaulted.
	assert.Equal(t, 3, doc.Settings.MaxConcurrentRoutes)
	assert.Equal(t, 10, doc.Settings.DefaultTimeout)
	assert.Equal(t, DefaultQueueCapacity, doc.Settings.QueueCapacity)
	assert.Equal(t, DefaultShutdownGraceSecs, doc.Settings.ShutdownGrace)
}

func TestParseMissingEnvVar(t *testing.T) {
	_, err := Parse([]byte(sampleDoc), EnvSnapshot{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
	assert.Contains(t, err.Error(), "SMTP_HOST")
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no routes", `routes: []`},
		{"unnamed route", `
routes:
  - from: "timer://1s"
    to: "log://"`},
		{"no source", `
routes:
  - name: r
    to: "log://"`},
		{"no destinations", `
routes:
  - name: r
    from: "timer://1s"`},
		{"duplicate names", `
routes:
  - name: r
    from: "timer://1s"
    to: "log://"
  - name: r
    from: "timer://2s"
    to: "log://"`},
		{"processor without type", `
routes:
  - name: r
    from: "timer://1s"
    processors:
      - condition: "{{v}} > 1"
    to: "log://"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), EnvSnapshot{})
			require.Error(t, err)
		})
	}
}

func TestStringListJSON(t *testing.T) {
	var one StringList
	require.NoError(t, json.Unmarshal([]byte(`"log://"`), &one))
	assert.Equal(t, StringList{"log://"}, one)

	var many StringList
	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &many))
	assert.Equal(t, StringList{"a", "b"}, many)
}

func TestSettingsDurations(t *testing.T) {
	s := Settings{DefaultTimeout: 5, ShutdownGrace: 7}
	assert.Equal(t, "5s", s.Timeout().String())
	assert.Equal(t, "7s", s.Grace().String())
}

func TestCaptureEnv(t *testing.T) {
	t.Setenv("ROUTEFLOW_TEST_VAR", "value-1")

	snap := CaptureEnv()
	v, ok := snap.Get("ROUTEFLOW_TEST_VAR")
	require.True(t, ok)
	assert.Equal(t, "value-1", v)

	// Snapshot is immune to later changes.
	t.Setenv("ROUTEFLOW_TEST_VAR", "value-2")
	v, _ = snap.Get("ROUTEFLOW_TEST_VAR")
	assert.Equal(t, "value-1", v)

	assert.Contains(t, snap.Environ(), "ROUTEFLOW_TEST_VAR=value-1")
}
