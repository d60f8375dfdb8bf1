package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/artbot/config"
)

// DefaultConnectTimeout bounds the broker connection and every publish.
const DefaultConnectTimeout = 10 * time.Second

// client is the subset of mqtt.Client used by the publisher.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes JSON encoded events below a topic prefix.
type MQTTPublisher struct {
	client  client
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
	logger  zerolog.Logger
}

// NewMQTT connects to the configured broker.
func NewMQTT(cfg config.EventsConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	c, err := buildClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newMQTTPublisher(c, cfg, logger), nil
}

func newMQTTPublisher(c client, cfg config.EventsConfig, logger zerolog.Logger) *MQTTPublisher {
	timeout := cfg.ConnectTimeout.Duration
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &MQTTPublisher{
		client:  c,
		prefix:  cfg.TopicPrefixOrDefault(),
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: timeout,
		logger:  logger,
	}
}

func buildClient(cfg config.EventsConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	timeout := cfg.ConnectTimeout.Duration
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect failed: %w", err)
	}
	return c, nil
}

// Topic returns the topic an event kind is published on.
func (p *MQTTPublisher) Topic(kind string) string {
	return p.prefix + "/" + strings.TrimPrefix(kind, "/")
}

// Publish encodes payload as JSON and waits until the broker acknowledged it,
// ctx ends or the publish timeout passes.
func (p *MQTTPublisher) Publish(ctx context.Context, kind string, payload any) error {
	if kind == "" {
		return fmt.Errorf("mqtt: event kind must not be empty")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: encode %s event: %w", kind, err)
	}
	topic := p.Topic(kind)
	token := p.client.Publish(topic, p.qos, p.retain, data)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt: publish to %s timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", topic, err)
	}
	p.logger.Debug().Str("topic", topic).Int("bytes", len(data)).Msg("event published")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
