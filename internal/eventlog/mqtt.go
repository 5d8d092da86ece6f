package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
)

// MQTTWriter publishes each event as JSON to <topic>/<system id>.
type MQTTWriter struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTWriter connects to the broker with auto reconnect enabled.
func NewMQTTWriter(cfg config.MQTTConfig, systemID string, logger *zap.Logger) (*MQTTWriter, error) {
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID + "-" + systemID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTWriterWithClient(client, cfg.Topic+"/"+systemID, cfg.QoS, logger), nil
}

func NewMQTTWriterWithClient(client mqtt.Client, topic string, qos byte, logger *zap.Logger) *MQTTWriter {
	return &MQTTWriter{client: client, topic: topic, qos: qos, logger: logger}
}

func (w *MQTTWriter) Write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: marshal event: %v", ErrPermanent, err)
	}

	token := w.client.Publish(w.topic, w.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", w.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", w.topic, err)
	}
	return nil
}

func (w *MQTTWriter) Close() error {
	w.client.Disconnect(250)
	return nil
}
