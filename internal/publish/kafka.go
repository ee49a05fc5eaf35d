package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

const kafkaFlushMillis = 5000

// kafkaProducer is the part of *kafka.Producer the publisher uses.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher produces each event as JSON keyed by event ID. Delivery
// reports are handled asynchronously.
type KafkaPublisher struct {
	producer     kafkaProducer
	topic        string
	deliveryChan chan kafka.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	messagesSent   atomic.Int64
	messagesAcked  atomic.Int64
	messagesFailed atomic.Int64
}

// ProducerConfig builds the librdkafka configuration for cfg.
func ProducerConfig(cfg config.KafkaConfig) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"request.timeout.ms": 30000,
		"client.id":          "footfall",
	}
	if cfg.SecurityProtocol != "" {
		_ = cm.SetKey("security.protocol", cfg.SecurityProtocol)
	}
	if cfg.SASLMechanism != "" {
		_ = cm.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.SASLUsername)
		_ = cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

// NewKafkaPublisher creates a producer for topic.
func NewKafkaPublisher(cfg config.KafkaConfig, topic string) (*KafkaPublisher, error) {
	if cfg.BootstrapServers == "" {
		return nil, errors.New("kafka bootstrap servers are required")
	}
	p, err := kafka.NewProducer(ProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	kp := newKafkaPublisher(p, topic)
	monitoring.Logf("[kafka] producer initialized - Topic: %s, Servers: %s", topic, cfg.BootstrapServers)
	return kp, nil
}

func newKafkaPublisher(p kafkaProducer, topic string) *KafkaPublisher {
	kp := &KafkaPublisher{
		producer:     p,
		topic:        topic,
		deliveryChan: make(chan kafka.Event, 256),
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()
	return kp
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for e := range kp.deliveryChan {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			kp.messagesFailed.Add(1)
			monitoring.Logf("[kafka] delivery failed: %v", m.TopicPartition.Error)
			continue
		}
		kp.messagesAcked.Add(1)
	}
}

// Message builds the Kafka message for ev.
func (kp *KafkaPublisher) Message(ev counter.Event) (*kafka.Message, error) {
	payload, err := encodeEvent(ev)
	if err != nil {
		return nil, err
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(ev.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind.String())},
		},
		Timestamp: ev.At,
	}, nil
}

// Publish enqueues ev. A nil error means librdkafka accepted the message;
// delivery failures are counted in Stats.
func (kp *KafkaPublisher) Publish(ctx context.Context, ev counter.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := kp.Message(ev)
	if err != nil {
		kp.messagesFailed.Add(1)
		return err
	}

	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.closed {
		return ErrClosed
	}
	if err := kp.producer.Produce(msg, kp.deliveryChan); err != nil {
		kp.messagesFailed.Add(1)
		return fmt.Errorf("kafka produce %s: %w", ev.ID, err)
	}
	kp.messagesSent.Add(1)
	return nil
}

// Stats reports produce and delivery counts.
func (kp *KafkaPublisher) Stats() Stats {
	return Stats{
		Sent:   kp.messagesSent.Load(),
		Acked:  kp.messagesAcked.Load(),
		Failed: kp.messagesFailed.Load(),
	}
}

// Close flushes outstanding messages and closes the producer.
func (kp *KafkaPublisher) Close() error {
	kp.mu.Lock()
	if kp.closed {
		kp.mu.Unlock()
		return nil
	}
	kp.closed = true
	kp.mu.Unlock()

	remaining := kp.producer.Flush(kafkaFlushMillis)
	kp.producer.Close()
	close(kp.deliveryChan)
	kp.wg.Wait()

	s := kp.Stats()
	monitoring.Logf("[kafka] producer closed - Sent: %d, Acked: %d, Failed: %d", s.Sent, s.Acked, s.Failed)
	if remaining > 0 {
		return fmt.Errorf("kafka close: %d messages not delivered", remaining)
	}
	return nil
}
