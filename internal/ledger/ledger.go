// Package ledger implements registration, authentication, balance transfers
// and transaction history on top of a storage.Storage.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type Options struct {
	Policy     Policy
	JWTSecret  string
	TokenTTL   time.Duration
	OpTimeout  time.Duration
	MaxRetries int
	BcryptCost int
	// PublishEvents appends a transaction.created outbox row with every transfer.
	PublishEvents bool
}

type Ledger struct {
	store     storage.Storage
	logger    *slog.Logger
	opts      Options
	dummyHash []byte
}

func New(store storage.Storage, logger *slog.Logger, opts Options) *Ledger {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}

	// compared against when the username is unknown, so both login failures cost the same
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), opts.BcryptCost)
	if err != nil {
		logger.Warn("Failed to prepare dummy password hash", slog.Any("error", err))
	}

	return &Ledger{
		store:     store,
		logger:    logger,
		opts:      opts,
		dummyHash: dummyHash,
	}
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.opts.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.opts.OpTimeout)
}

// storeError turns a storage failure into an apperr kind. Errors that already
// carry a kind pass through unchanged.
func storeError(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrConflict):
		return apperr.Wrap(apperr.KindConflict, "concurrent update, please retry", err)
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindUnavailable, "service temporarily unavailable, please retry", err)
	case errors.Is(err, storage.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, "not found", err)
	default:
		return apperr.Internal(err)
	}
}
