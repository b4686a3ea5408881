package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is an immutable ledger entry of a completed transfer.
type Transaction struct {
	ID         int64           `json:"id"`
	SenderID   uuid.UUID       `json:"sender_id"`
	ReceiverID uuid.NullUUID   `json:"receiver_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

type NewTransaction struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Amount     decimal.Decimal
}

// TransactionView is a Transaction with both counterparts resolved.
// Receiver is nil when the receiving account no longer resolves.
type TransactionView struct {
	ID        int64           `json:"id"`
	Sender    AccountRef      `json:"sender"`
	Receiver  *AccountRef     `json:"receiver"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}
