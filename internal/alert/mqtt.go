package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/signalsfoundry/airspace-sentinel/model"
)

// Defaults for the MQTT alert sink.
const (
	DefaultTopic    = "sentinel/alerts"
	DefaultClientID = "airspace-sentinel"

	alertQoS = 1
)

// ErrNotConnected is returned when the broker connection is down.
var ErrNotConnected = errors.New("alert: mqtt client not connected")

// Publisher is the subset of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes alerts as JSON at QoS 1.
type MQTTSink struct {
	client Publisher
	topic  string
}

// NewMQTTSink binds a sink to an already connected publisher.
func NewMQTTSink(client Publisher, topic string) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSink{client: client, topic: topic}
}

// Topic returns the publish topic.
func (s *MQTTSink) Topic() string { return s.topic }

// Notify publishes a and waits for the broker acknowledgement or ctx.
func (s *MQTTSink) Notify(ctx context.Context, a model.Alert) error {
	if c, ok := s.client.(mqtt.Client); ok && !c.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	token := s.client.Publish(s.topic, alertQoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish alert to %s: %w", s.topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish alert to %s: %w", s.topic, ctx.Err())
	}
}

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	ConnectTimeout time.Duration
}

// Connect dials the broker with auto-reconnect enabled.
func Connect(ctx context.Context, cfg MQTTConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("alert: mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.ConnectTimeout)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}
	return client, nil
}
