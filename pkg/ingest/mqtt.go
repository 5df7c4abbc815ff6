package ingest

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/logx"
)

// ReadingHandler receives each validated sensor reading from an adapter.
type ReadingHandler func(pkg.SensorReading)

// MQTTConfig holds MQTT adapter configuration.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Enabled     bool   `json:"enabled"`
}

// DefaultMQTTConfig returns default MQTT adapter configuration.
func DefaultMQTTConfig() *MQTTConfig {
	return &MQTTConfig{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "ccid",
		TopicPrefix: "cci",
		QoS:         1,
		Enabled:     false,
	}
}

// MQTTAdapter subscribes to per-sensor reading topics and republishes
// scored results. Malformed or invalid rows are counted and dropped, never
// fatal: the ingestion boundary marks bad input invalid instead of
// crashing the scoring loop.
type MQTTAdapter struct {
	client  MQTT.Client
	config  *MQTTConfig
	logger  *logx.Logger
	invalid atomic.Int64
}

// NewMQTTAdapter creates an MQTT adapter.
func NewMQTTAdapter(config *MQTTConfig, logger *logx.Logger) *MQTTAdapter {
	if config == nil {
		config = DefaultMQTTConfig()
	}
	return &MQTTAdapter{config: config, logger: logger}
}

// Connect establishes the broker connection with automatic reconnect.
func (m *MQTTAdapter) Connect() error {
	if !m.config.Enabled {
		m.logger.Debug("MQTT adapter disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Broker, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
		opts.SetPassword(m.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		m.logger.Info("MQTT connection established", "broker", m.config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		m.logger.Error("MQTT connection lost", "error", err.Error())
	})

	m.client = MQTT.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// SubscribeReadings subscribes to the readings topic and forwards each
// decoded, validated SensorReading to the handler.
func (m *MQTTAdapter) SubscribeReadings(handler ReadingHandler) error {
	if !m.config.Enabled {
		return nil
	}

	topic := fmt.Sprintf("%s/readings/#", m.config.TopicPrefix)
	token := m.client.Subscribe(topic, byte(m.config.QoS), func(_ MQTT.Client, msg MQTT.Message) {
		var r pkg.SensorReading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			m.invalid.Add(1)
			m.logger.Warn("Undecodable reading dropped", "topic", msg.Topic(), "error", err)
			return
		}
		if err := r.Validate(); err != nil {
			m.invalid.Add(1)
			m.logger.Debug("Invalid reading dropped", "topic", msg.Topic(), "error", err)
			return
		}
		handler(r)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	m.logger.Info("MQTT subscription created", "topic", topic)
	return nil
}

// PublishScore publishes a scored reading to the component's score topic.
func (m *MQTTAdapter) PublishScore(sr *pkg.ScoredReading) error {
	if !m.config.Enabled || m.client == nil {
		return nil
	}
	data, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("failed to marshal scored reading: %w", err)
	}
	topic := fmt.Sprintf("%s/scores/%s", m.config.TopicPrefix, sr.ComponentID)
	token := m.client.Publish(topic, byte(m.config.QoS), false, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}

// InvalidCount returns the number of rows dropped at the ingestion
// boundary since startup.
func (m *MQTTAdapter) InvalidCount() int64 {
	return m.invalid.Load()
}

// Disconnect closes the broker connection.
func (m *MQTTAdapter) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("MQTT adapter disconnected")
	}
}
