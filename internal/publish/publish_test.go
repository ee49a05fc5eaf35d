package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/testutil"
)

func sampleEvent() counter.Event {
	return counter.Event{
		ID:      "4f1c",
		Kind:    counter.EventIn,
		At:      time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		X:       310,
		In:      3,
		Out:     1,
		Present: 2,
	}
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	connected    bool
	token        mqtt.Token
	sent         []published
	disconnected int
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func (f *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.token != nil {
		return f.token
	}
	return newToken(nil, true)
}

func (f *fakeMQTT) Disconnect(uint) { f.disconnected++ }

func TestMQTTPublisher_Publish(t *testing.T) {
	testutil.Quiet(t)
	client := &fakeMQTT{connected: true}
	p := newMQTTPublisher(client, "footfall/events", 1)

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "footfall/events/in", client.sent[0].topic)
	assert.Equal(t, byte(1), client.sent[0].qos)

	var got counter.Event
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, sampleEvent(), got)
	assert.Equal(t, Stats{Sent: 1, Acked: 1}, p.Stats())
}

func TestMQTTPublisher_Errors(t *testing.T) {
	testutil.Quiet(t)
	ctx := context.Background()

	disconnected := newMQTTPublisher(&fakeMQTT{}, "t", 0)
	assert.Error(t, disconnected.Publish(ctx, sampleEvent()))
	assert.Equal(t, int64(1), disconnected.Stats().Failed)

	rejected := newMQTTPublisher(&fakeMQTT{connected: true, token: newToken(errors.New("not authorized"), true)}, "t", 0)
	err := rejected.Publish(ctx, sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")

	pending := newMQTTPublisher(&fakeMQTT{connected: true, token: newToken(nil, false)}, "t", 0)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, pending.Publish(cancelled, sampleEvent()), context.Canceled)
}

func TestMQTTPublisher_Close(t *testing.T) {
	testutil.Quiet(t)
	client := &fakeMQTT{connected: true}
	p := newMQTTPublisher(client, "t", 0)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, client.disconnected)
	assert.ErrorIs(t, p.Publish(context.Background(), sampleEvent()), ErrClosed)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
	assert.Equal(t, "ws://broker/mqtt", brokerURL("ws://broker/mqtt"))
}

func TestNewMQTTPublisher_RequiresBroker(t *testing.T) {
	_, err := NewMQTTPublisher(context.Background(), config.MQTTConfig{}, "t")
	assert.Error(t, err)
}

type fakeProducer struct {
	mu         sync.Mutex
	messages   []*kafka.Message
	produceErr error
	deliverErr error
	flushed    bool
	closed     bool
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.produceErr != nil {
		return f.produceErr
	}
	f.messages = append(f.messages, msg)
	report := *msg
	report.TopicPartition.Error = f.deliverErr
	deliveryChan <- &report
	return nil
}

func (f *fakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = true
	return 0
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestKafkaPublisher_Publish(t *testing.T) {
	testutil.Quiet(t)
	producer := &fakeProducer{}
	p := newKafkaPublisher(producer, "footfall-events")

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Eventually(t, func() bool { return p.Stats().Acked == 1 }, time.Second, time.Millisecond)

	require.Len(t, producer.messages, 1)
	msg := producer.messages[0]
	assert.Equal(t, "footfall-events", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, []byte("4f1c"), msg.Key)
	assert.Equal(t, []kafka.Header{{Key: "kind", Value: []byte("in")}}, msg.Headers)

	var got counter.Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, sampleEvent(), got)

	require.NoError(t, p.Close())
	assert.True(t, producer.flushed)
	assert.True(t, producer.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), sampleEvent()), ErrClosed)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_Failures(t *testing.T) {
	testutil.Quiet(t)

	rejecting := newKafkaPublisher(&fakeProducer{produceErr: errors.New("queue full")}, "t")
	assert.Error(t, rejecting.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, Stats{Failed: 1}, rejecting.Stats())
	require.NoError(t, rejecting.Close())

	undelivered := newKafkaPublisher(&fakeProducer{deliverErr: errors.New("broker down")}, "t")
	require.NoError(t, undelivered.Publish(context.Background(), sampleEvent()))
	require.NoError(t, undelivered.Close())
	assert.Equal(t, Stats{Sent: 1, Failed: 1}, undelivered.Stats())
}

func TestProducerConfig(t *testing.T) {
	cm := ProducerConfig(config.KafkaConfig{
		BootstrapServers: "broker:9092",
		SecurityProtocol: "SASL_SSL",
		SASLMechanism:    "PLAIN",
		SASLUsername:     "user",
		SASLPassword:     "secret",
	})
	servers, err := cm.Get("bootstrap.servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "broker:9092", servers)
	mech, err := cm.Get("sasl.mechanism", nil)
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", mech)

	plain := ProducerConfig(config.KafkaConfig{BootstrapServers: "b:9092"})
	proto, err := plain.Get("security.protocol", "unset")
	require.NoError(t, err)
	assert.Equal(t, "unset", proto)
}

func TestNewKafkaPublisher_RequiresServers(t *testing.T) {
	_, err := NewKafkaPublisher(config.KafkaConfig{}, "t")
	assert.Error(t, err)
}
