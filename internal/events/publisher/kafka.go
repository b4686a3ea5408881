// Package publisher writes outbox events to Kafka.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	log := logger.With(slog.String("component", "kafka-producer"), slog.String("topic", topic))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...))
		}),
	}

	log.Info("Kafka producer initialized", slog.Any("brokers", brokers))
	return &Kafka{writer: writer, logger: log}
}

// Publish writes one message. Messages with the same key land on the same partition.
func (k *Kafka) Publish(ctx context.Context, key string, value []byte) error {
	const op = "publisher.Kafka.Publish"

	err := k.writer.WriteMessages(ctx, newMessage(key, value))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func newMessage(key string, value []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
}

func (k *Kafka) Close() error {
	const op = "publisher.Kafka.Close"

	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	k.logger.Info("Kafka producer closed")
	return nil
}
