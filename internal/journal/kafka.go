package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/starforge-io/starforge/internal/config"
)

// Environment variable names for the Kafka journal sink.
const (
	// KafkaBrokersEnvVar is a comma-separated broker list. Empty disables the
	// Kafka sink.
	KafkaBrokersEnvVar = "JOURNAL_KAFKA_BROKERS"

	// KafkaTopicEnvVar overrides the journal topic name.
	KafkaTopicEnvVar = "JOURNAL_KAFKA_TOPIC"
)

// DefaultKafkaTopic is the topic journal entries are published to.
const DefaultKafkaTopic = "starforge.pipeline.runs"

const kafkaWriteTimeout = 10 * time.Second

type (
	// KafkaConfig holds connection settings for the Kafka journal sink.
	KafkaConfig struct {
		// Brokers is the bootstrap broker list.
		Brokers []string
		// Topic is the journal topic.
		Topic string
	}

	// KafkaSink publishes execution log entries to a Kafka topic as JSON
	// events, keyed by run ID so all entries of one pipeline run land in the
	// same partition in order.
	KafkaSink struct {
		writer *kafka.Writer
	}
)

// Compile-time check that KafkaSink implements Sink.
var _ Sink = (*KafkaSink)(nil)

// LoadKafkaConfig reads Kafka sink settings from environment variables.
//
// Returns enabled=false when JOURNAL_KAFKA_BROKERS is unset or empty: the
// Kafka sink is an optional secondary consumer of the journal.
func LoadKafkaConfig() (KafkaConfig, bool) {
	brokers := config.GetEnvStr(KafkaBrokersEnvVar, "")
	if brokers == "" {
		return KafkaConfig{}, false
	}

	cfg := KafkaConfig{
		Topic: config.GetEnvStr(KafkaTopicEnvVar, DefaultKafkaTopic),
	}

	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}

	return cfg, len(cfg.Brokers) > 0
}

// NewKafkaSink creates a KafkaSink for the given brokers and topic.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: kafkaWriteTimeout,
		},
	}
}

// Record publishes the entry as a JSON message keyed by run ID.
func (s *KafkaSink) Record(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode journal entry: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.RunID.String()),
		Value: payload,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish journal entry to %s: %w", s.writer.Topic, err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close journal kafka writer: %w", err)
	}

	return nil
}
