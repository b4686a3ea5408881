package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a user's identity and balance record.
type Account struct {
	ID           uuid.UUID       `json:"id"`
	Username     string          `json:"username"`
	DisplayName  string          `json:"name"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewAccount is the input for account creation.
type NewAccount struct {
	ID           uuid.UUID
	Username     string
	DisplayName  string
	PasswordHash string
	Balance      decimal.Decimal
}

// AccountRef is the public identity of a transfer counterpart.
type AccountRef struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"name"`
}

func (a Account) Ref() AccountRef {
	return AccountRef{ID: a.ID, Username: a.Username, DisplayName: a.DisplayName}
}
