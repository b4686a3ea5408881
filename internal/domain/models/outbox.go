package models

import "time"

const EventTransactionCreated = "transaction.created"

// OutboxMessage is an event waiting to be relayed to the broker.
type OutboxMessage struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	SentAt      *time.Time
}
