// Package events relays transaction events from the outbox table to the broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionCreated is the payload of a transaction.created event.
type TransactionCreated struct {
	ID         int64           `json:"id"`
	SenderID   uuid.UUID       `json:"sender_id"`
	ReceiverID *uuid.UUID      `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewTransactionCreated builds the outbox row announcing t.
func NewTransactionCreated(t models.Transaction) (models.OutboxMessage, error) {
	const op = "events.NewTransactionCreated"

	event := TransactionCreated{
		ID:        t.ID,
		SenderID:  t.SenderID,
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt,
	}
	if t.ReceiverID.Valid {
		id := t.ReceiverID.UUID
		event.ReceiverID = &id
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return models.OutboxMessage{}, fmt.Errorf("%s: %w", op, err)
	}

	// keyed by sender so one account's events stay ordered on a single partition
	return models.OutboxMessage{
		AggregateID: t.SenderID.String(),
		EventType:   models.EventTransactionCreated,
		Payload:     payload,
	}, nil
}
