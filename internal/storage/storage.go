// Package storage defines the account, transaction and outbox store contracts
// shared by the postgres and memory implementations.
package storage

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUsernameTaken     = errors.New("username already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceMismatch   = errors.New("balance changed concurrently")
	// ErrConflict marks contention (serialization failure, deadlock); the unit of work may be retried.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrUnavailable marks connectivity loss or a timed out operation.
	ErrUnavailable = errors.New("storage unavailable")
)

type Accounts interface {
	Account(ctx context.Context, id uuid.UUID) (models.Account, error)
	AccountByUsername(ctx context.Context, username string) (models.Account, error)
	CreateAccount(ctx context.Context, acc models.NewAccount) (models.Account, error)
	// ApplyBalanceDelta adds delta to the balance in one atomic step. The result
	// must stay non-negative and, when expected is set, the prior balance must equal it.
	ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, expected *decimal.Decimal) (models.Account, error)
	// LockAccounts locks the given rows until the surrounding unit of work ends.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) error
}

type Transactions interface {
	AppendTransaction(ctx context.Context, t models.NewTransaction) (models.Transaction, error)
	// ListTransactions returns one page of transactions where accountID is sender or
	// receiver, newest first, together with the total number of matching rows.
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.TransactionView, int, error)
}

type Outbox interface {
	EnqueueOutbox(ctx context.Context, msg models.OutboxMessage) error
	PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64, at time.Time) error
	PurgeOutbox(ctx context.Context, sentBefore time.Time) (int64, error)
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	Accounts
	Transactions
	Outbox
}

type Storage interface {
	Tx
	// RunInTx runs fn in a unit of work. Every change fn makes is committed
	// together, or none is when fn or the commit fails.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// SortIDs returns the distinct ids in ascending byte order, the lock order used by every store.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}
