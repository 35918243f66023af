package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultTopicPrefix is the first segment of every topic the hub listens on.
const DefaultTopicPrefix = "HSrv"

// MessageHandler is called for every message received on a subscribed topic.
// It may be called concurrently and in any order.
type MessageHandler func(topic string, payload []byte)

// Transport is the publish/subscribe primitive the [Client] talks to the hub
// through. Delivery is at least once, ordering is not guaranteed.
type Transport interface {
	Connect(ctx context.Context, address, clientID string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// InboundTopic is the topic the hub publishes responses and pushes for
// clientID on.
func InboundTopic(prefix, hubID, clientID string) string {
	return fmt.Sprintf("%s/%s/tx/%s", prefix, hubID, clientID)
}

// OutboundTopic is the topic clientID publishes requests on.
func OutboundTopic(prefix, hubID, clientID string) string {
	return fmt.Sprintf("%s/%s/rx/%s", prefix, hubID, clientID)
}

// NewClientID returns a random client id. The hub uses it to scope topics, so
// it has to be unique among clients connected to the same broker.
func NewClientID() string {
	return "homehub-" + uuid.NewString()[:8]
}

// MQTTTransport is a [Transport] backed by an MQTT broker.
type MQTTTransport struct {
	Username string
	Password string

	// QoS used for publishing and subscribing. Defaults to 0.
	QoS byte

	// ConnectTimeout defaults to 10 seconds.
	ConnectTimeout time.Duration

	mu     sync.Mutex
	client mqtt.Client
}

var _ Transport = (*MQTTTransport)(nil)

// Connect connects to the broker at address, e.g. "tcp://192.168.1.2:1883".
func (t *MQTTTransport) Connect(ctx context.Context, address, clientID string) error {
	timeout := t.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(address)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	// Handlers must not block each other. Responses are correlated by key,
	// not by arrival order.
	opts.SetOrderMatters(false)
	if t.Username != "" {
		opts.SetUsername(t.Username)
		opts.SetPassword(t.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Debug("connected to broker", slog.String("address", address))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("lost connection to broker",
			slog.String("address", address),
			slog.Any("error", err),
		)
	})

	client := mqtt.NewClient(opts)
	err := waitToken(ctx, client.Connect())
	if err != nil {
		return fmt.Errorf("connect to %s: %w", address, err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	return nil
}

func (t *MQTTTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := t.connected()
	if err != nil {
		return err
	}

	return waitToken(ctx, client.Publish(topic, t.QoS, false, payload))
}

func (t *MQTTTransport) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	client, err := t.connected()
	if err != nil {
		return err
	}

	tok := client.Subscribe(topic, t.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	return waitToken(ctx, tok)
}

func (t *MQTTTransport) Unsubscribe(ctx context.Context, topic string) error {
	client, err := t.connected()
	if err != nil {
		return err
	}

	return waitToken(ctx, client.Unsubscribe(topic))
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return nil
	}

	client.Disconnect(250)
	return nil
}

func (t *MQTTTransport) connected() (mqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, ErrNotConnected
	}

	return t.client, nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
