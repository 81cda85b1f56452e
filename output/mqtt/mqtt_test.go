package mqtt

import (
	stderrors "errors"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/routeflow/endpoint"
	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/pkg/retry"
)

func TestMQTTSinkConfig(t *testing.T) {
	ep, err := endpoint.Parse("mqtt://user:pw@broker:1884/alerts?qos=2&retain=true", nil)
	require.NoError(t, err)

	sink, err := New(ep, endpoint.Dependencies{Route: "alerts"})
	require.NoError(t, err)

	s := sink.(*Sink)
	assert.Equal(t, "tcp://broker:1884", s.broker)
	assert.Equal(t, "alerts", s.topic)
	assert.Equal(t, byte(2), s.qos)
	assert.True(t, s.retain)
}

func TestMQTTSinkDefaults(t *testing.T) {
	ep, err := endpoint.Parse("mqtt://broker/alerts", nil)
	require.NoError(t, err)

	sink, err := New(ep, endpoint.Dependencies{})
	require.NoError(t, err)

	s := sink.(*Sink)
	assert.Equal(t, "tcp://broker:1883", s.broker)
	assert.Equal(t, byte(0), s.qos)
	assert.False(t, s.retain)
}

func TestClassifyConnectErr(t *testing.T) {
	assert.NoError(t, classifyConnectErr(nil))

	err := classifyConnectErr(packets.ErrorRefusedNotAuthorised)
	require.Error(t, err)
	assert.True(t, retry.IsNonRetryable(err), "broker refusal must not be retried")

	transient := stderrors.New("connection refused")
	assert.False(t, retry.IsNonRetryable(classifyConnectErr(transient)))
}

func TestMQTTSinkRejections(t *testing.T) {
	for _, uri := range []string{"mqtt:///t", "mqtt://broker", "mqtt://broker/t?qos=9"} {
		t.Run(uri, func(t *testing.T) {
			ep, err := endpoint.Parse(uri, nil)
			require.NoError(t, err)
			_, err = New(ep, endpoint.Dependencies{})
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}
