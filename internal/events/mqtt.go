package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prudhvinik1/moonbattery/internal/config"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttKeepAlive         = 60 * time.Second
	mqttDisconnectQuiesce = 1000 // milliseconds

	// QoS 1: at least once. Consumers must tolerate duplicates by event id.
	eventQoS byte = 1
)

var (
	ErrMQTTConnect  = errors.New("mqtt connection failed")
	ErrMQTTPublish  = errors.New("mqtt publish failed")
	ErrNotConnected = errors.New("mqtt not connected")
)

// MQTTPublisher publishes events to <prefix>/devices/<serial>/events/<type>.
type MQTTPublisher struct {
	client pahomqtt.Client
	prefix string
}

// ConnectMQTT connects to the broker with auto-reconnect enabled.
func ConnectMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}

	return NewMQTTPublisher(client, cfg.TopicPrefix), nil
}

func NewMQTTPublisher(client pahomqtt.Client, prefix string) *MQTTPublisher {
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}
	return &MQTTPublisher{client: client, prefix: prefix}
}

func (p *MQTTPublisher) Topic(event Event) string {
	return fmt.Sprintf("%s/devices/%s/events/%s", p.prefix, event.SerialNumber, event.Type)
}

func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, mqttPublishTimeout)
	defer cancel()

	token := p.client.Publish(p.Topic(event), eventQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrMQTTPublish, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTPublish, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttDisconnectQuiesce)
}
