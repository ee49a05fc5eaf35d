package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/footfall.report/internal/config"
	"github.com/banshee-data/footfall.report/internal/counter"
	"github.com/banshee-data/footfall.report/internal/monitoring"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesceMillis  = 250
)

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes each event as JSON to <topic>/<kind>.
type MQTTPublisher struct {
	client mqttClient
	topic  string
	qos    byte

	closeOnce sync.Once
	closed    atomic.Bool

	sent   atomic.Int64
	failed atomic.Int64
}

// NewMQTTPublisher connects to cfg.Broker and returns a publisher for topic.
// The client reconnects on its own after the initial connection succeeds.
func NewMQTTPublisher(ctx context.Context, cfg config.MQTTConfig, topic string) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "footfall"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		monitoring.Logf("[mqtt] connected to %s as %s", cfg.Broker, clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		monitoring.Logf("[mqtt] connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, topic, cfg.QoS), nil
}

func newMQTTPublisher(client mqttClient, topic string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, qos: qos}
}

// brokerURL accepts host:port as shorthand for tcp://host:port.
func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://", "tls://"} {
		if strings.HasPrefix(broker, scheme) {
			return broker
		}
	}
	return "tcp://" + broker
}

// Topic returns the topic a given event is published to.
func (p *MQTTPublisher) Topic(ev counter.Event) string {
	return p.topic + "/" + ev.Kind.String()
}

// Publish sends ev and waits for the broker to acknowledge it according to
// the configured QoS.
func (p *MQTTPublisher) Publish(ctx context.Context, ev counter.Event) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.client.IsConnected() {
		p.failed.Add(1)
		return errors.New("mqtt not connected")
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		p.failed.Add(1)
		return err
	}

	token := p.client.Publish(p.Topic(ev), p.qos, false, payload)
	if err := waitToken(ctx, token, mqttPublishTimeout); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("mqtt publish %s: %w", ev.ID, err)
	}
	p.sent.Add(1)
	return nil
}

// Stats reports publish counts. MQTT acknowledgements are synchronous so
// Acked equals Sent.
func (p *MQTTPublisher) Stats() Stats {
	sent := p.sent.Load()
	return Stats{Sent: sent, Acked: sent, Failed: p.failed.Load()}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.client.Disconnect(mqttQuiesceMillis)
		monitoring.Logf("[mqtt] disconnected")
	})
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
