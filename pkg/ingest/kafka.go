package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/logx"
)

// KafkaConfig holds Kafka consumer configuration.
type KafkaConfig struct {
	Brokers  []string `json:"brokers"`
	Topic    string   `json:"topic"`
	GroupID  string   `json:"group_id"`
	MinBytes int      `json:"min_bytes"`
	MaxBytes int      `json:"max_bytes"`
	Enabled  bool     `json:"enabled"`
}

// DefaultKafkaConfig returns default Kafka consumer configuration.
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "sensor-readings",
		GroupID:  "ccid",
		MinBytes: 1,
		MaxBytes: 10e6,
		Enabled:  false,
	}
}

// KafkaConsumer reads sensor readings from a Kafka topic and forwards them
// to a handler. Offsets are committed only after the handler has accepted
// the reading, so a crash replays rather than drops.
type KafkaConsumer struct {
	reader  *kafka.Reader
	config  *KafkaConfig
	logger  *logx.Logger
	invalid atomic.Int64
}

// NewKafkaConsumer creates a Kafka consumer.
func NewKafkaConsumer(config *KafkaConfig, logger *logx.Logger) *KafkaConsumer {
	if config == nil {
		config = DefaultKafkaConfig()
	}
	kc := &KafkaConsumer{config: config, logger: logger}
	if config.Enabled {
		kc.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        config.Brokers,
			Topic:          config.Topic,
			GroupID:        config.GroupID,
			MinBytes:       config.MinBytes,
			MaxBytes:       config.MaxBytes,
			CommitInterval: 0, // explicit commits
			MaxWait:        1 * time.Second,
		})
	}
	return kc
}

// Run consumes readings until the context is cancelled. Undecodable or
// invalid messages are counted, committed, and skipped.
func (kc *KafkaConsumer) Run(ctx context.Context, handler ReadingHandler) error {
	if !kc.config.Enabled {
		kc.logger.Debug("Kafka consumer disabled")
		<-ctx.Done()
		return nil
	}
	kc.logger.Info("Kafka consumer started",
		"topic", kc.config.Topic, "group_id", kc.config.GroupID)

	for {
		msg, err := kc.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		var r pkg.SensorReading
		if err := json.Unmarshal(msg.Value, &r); err != nil {
			kc.invalid.Add(1)
			kc.logger.Warn("Undecodable reading dropped",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else if err := r.Validate(); err != nil {
			kc.invalid.Add(1)
			kc.logger.Debug("Invalid reading dropped",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		} else {
			handler(r)
		}

		if err := kc.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

// InvalidCount returns the number of messages dropped at the ingestion
// boundary since startup.
func (kc *KafkaConsumer) InvalidCount() int64 {
	return kc.invalid.Load()
}

// Close shuts down the reader.
func (kc *KafkaConsumer) Close() error {
	if kc.reader == nil {
		return nil
	}
	return kc.reader.Close()
}
