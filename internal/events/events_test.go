package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New(TypePinged, "123456", 7)
	b := New(TypePinged, "123456", 7)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID, "every event gets its own id")
	assert.Equal(t, TypePinged, a.Type)
	assert.Equal(t, time.UTC, a.OccurredAt.Location())
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	first := &recordingSink{}
	failing := &recordingSink{err: errors.New("sink down")}
	last := &recordingSink{}

	err := Fanout{first, failing, last}.Publish(context.Background(), New(TypeRegistered, "123456", 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, first.events, 1)
	assert.Len(t, last.events, 1, "a failing sink must not stop delivery")
}

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeMQTTClient{open: true}
	publisher := NewMQTTPublisher(client, "moonbattery")

	event := New(TypeConfigurationsUpdated, "123456", 7)
	event.Keys = []string{"chargingRate"}

	// ACT
	err := publisher.Publish(context.Background(), event)

	// ASSERT
	require.NoError(t, err)
	require.Len(t, client.published, 1)

	msg := client.published[0]
	assert.Equal(t, "moonbattery/devices/123456/events/configurations_updated", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "123456", decoded["serialNumber"])
	assert.Equal(t, "configurations_updated", decoded["type"])
	assert.Equal(t, []any{"chargingRate"}, decoded["keys"])
}

func TestMQTTPublisher_NotConnected(t *testing.T) {
	client := &fakeMQTTClient{open: false}
	publisher := NewMQTTPublisher(client, "")

	err := publisher.Publish(context.Background(), New(TypePinged, "123456", 0))

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, client.published)
}

func TestMQTTPublisher_BrokerError(t *testing.T) {
	client := &fakeMQTTClient{open: true, err: errors.New("not authorized")}
	publisher := NewMQTTPublisher(client, "")

	err := publisher.Publish(context.Background(), New(TypePinged, "123456", 0))

	assert.ErrorIs(t, err, ErrMQTTPublish)
	assert.Contains(t, err.Error(), "not authorized")
}

func TestEventPoint(t *testing.T) {
	event := New(TypeConfigurationsUpdated, "123456", 7)
	event.Keys = []string{"a", "b"}

	line := write.PointToLineProtocol(eventPoint(event), time.Nanosecond)

	assert.Contains(t, line, "device_events,")
	assert.Contains(t, line, "serial_number=123456")
	assert.Contains(t, line, "type=configurations_updated")
	assert.Contains(t, line, "count=1i")
	assert.Contains(t, line, "keys=2i")
}

func TestEventPoint_PingHasNoKeysField(t *testing.T) {
	line := write.PointToLineProtocol(eventPoint(New(TypePinged, "123456", 7)), time.Nanosecond)

	assert.Contains(t, line, "type=pinged")
	assert.NotContains(t, line, "keys=")
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeMQTTClient implements the parts of pahomqtt.Client the publisher uses.
type fakeMQTTClient struct {
	pahomqtt.Client
	open      bool
	err       error
	published []publishedMessage
}

func (c *fakeMQTTClient) IsConnectionOpen() bool { return c.open }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.published = append(c.published, publishedMessage{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return newDoneToken(c.err)
}

type doneToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} { return t.done }
func (t *doneToken) Error() error { return t.err }
