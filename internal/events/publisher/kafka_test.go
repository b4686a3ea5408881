package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/events"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	written []kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewKafkaWriterConfig(t *testing.T) {
	k := NewKafka([]string{"localhost:9092"}, "ledger.transactions", discardLogger())

	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "ledger.transactions", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestPublishKeysBySender(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, logger: discardLogger()}

	sender := uuid.New()
	msg, err := events.NewTransactionCreated(models.Transaction{
		ID:       1,
		SenderID: sender,
		Amount:   decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	require.NoError(t, k.Publish(context.Background(), msg.AggregateID, msg.Payload))

	require.Len(t, w.written, 1)
	assert.Equal(t, sender.String(), string(w.written[0].Key))
	assert.JSONEq(t, string(msg.Payload), string(w.written[0].Value))
	assert.Empty(t, w.written[0].Topic)
}

func TestPublishWrapsWriterError(t *testing.T) {
	broker := errors.New("leader not available")
	k := &Kafka{writer: &fakeWriter{err: broker}, logger: discardLogger()}

	err := k.Publish(context.Background(), "key", []byte("{}"))
	assert.ErrorIs(t, err, broker)
}

func TestClose(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, logger: discardLogger()}

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}
