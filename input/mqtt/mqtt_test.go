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

func newFromURI(t *testing.T, uri string) (endpoint.Source, error) {
	t.Helper()
	ep, err := endpoint.Parse(uri, nil)
	require.NoError(t, err)
	return New(ep, endpoint.Dependencies{Route: "mq"})
}

func TestMQTTSourceConfig(t *testing.T) {
	src, err := newFromURI(t, "mqtt://user:pw@broker.local:1884/alerts/high?qos=1")
	require.NoError(t, err)

	s := src.(*Source)
	assert.Equal(t, "tcp://broker.local:1884", s.broker)
	assert.Equal(t, "alerts/high", s.topic)
	assert.Equal(t, byte(1), s.qos)
	assert.Equal(t, "user", s.user)
	assert.Equal(t, "pw", s.pass)
}

func TestMQTTSourceDefaultPortAndQoS(t *testing.T) {
	src, err := newFromURI(t, "mqtt://broker/events")
	require.NoError(t, err)

	s := src.(*Source)
	assert.Equal(t, "tcp://broker:1883", s.broker)
	assert.Equal(t, byte(0), s.qos)
}

func TestMQTTSourceRejections(t *testing.T) {
	tests := []string{
		"mqtt:///topic",             // no broker
		"mqtt://broker",             // no topic
		"mqtt://broker/top?qos=7",   // bad qos
		"mqtt://broker/top?qos=abc", // non-numeric qos
	}
	for _, uri := range tests {
		t.Run(uri, func(t *testing.T) {
			_, err := newFromURI(t, uri)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}

func TestClassifyConnectErr(t *testing.T) {
	assert.NoError(t, classifyConnectErr(nil))

	for _, refusal := range []error{
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised,
	} {
		err := classifyConnectErr(refusal)
		require.Error(t, err)
		assert.True(t, retry.IsNonRetryable(err), "broker refusal must not be retried")
	}

	transient := stderrors.New("connection refused")
	assert.False(t, retry.IsNonRetryable(classifyConnectErr(transient)))
}

func TestTopicFromPath(t *testing.T) {
	assert.Equal(t, "a/b", topicFromPath("/a/b"))
	assert.Equal(t, "a/b", topicFromPath("a/b"))
	assert.Equal(t, "", topicFromPath(""))
}
