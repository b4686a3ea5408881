package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/events"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/google/uuid"
)

const retryBackoff = 10 * time.Millisecond

// Transfer moves in.Amount from the caller to in.Receiver. Debit, credit and
// the transaction record are applied in one unit of work: either all of them
// become visible or none does.
func (l *Ledger) Transfer(ctx context.Context, callerID uuid.UUID, in TransferInput) (models.TransactionView, error) {
	req, err := ParseTransfer(in)
	if err != nil {
		return models.TransactionView{}, err
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	log := l.logger.With(
		slog.String("op", "ledger.Transfer"),
		slog.String("sender", callerID.String()),
		slog.String("receiver", req.ReceiverID.String()),
	)

	var view models.TransactionView
	err = l.retry(ctx, log, func() error {
		return l.store.RunInTx(ctx, func(tx storage.Tx) error {
			v, err := l.transfer(ctx, tx, callerID, req)
			if err != nil {
				return err
			}
			view = v
			return nil
		})
	})
	if err != nil {
		return models.TransactionView{}, storeError(err)
	}

	log.Info("Transfer completed", slog.Int64("transaction", view.ID), slog.String("amount", view.Amount.String()))
	return view, nil
}

func (l *Ledger) transfer(ctx context.Context, tx storage.Tx, callerID uuid.UUID, req TransferRequest) (models.TransactionView, error) {
	ids := []uuid.UUID{callerID}
	if req.ReceiverID != uuid.Nil {
		ids = append(ids, req.ReceiverID)
	}
	if err := tx.LockAccounts(ctx, ids...); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return models.TransactionView{}, err
	}

	caller, err := tx.Account(ctx, callerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.TransactionView{}, apperr.New(apperr.KindUnauthenticated, unauthenticatedMessage)
		}
		return models.TransactionView{}, err
	}

	var receiver *models.Account
	if req.ReceiverID != uuid.Nil {
		acc, err := tx.Account(ctx, req.ReceiverID)
		switch {
		case err == nil:
			receiver = &acc
		case !errors.Is(err, storage.ErrNotFound):
			return models.TransactionView{}, err
		}
	}

	if err := ValidateTransfer(caller, receiver, req, l.opts.Policy); err != nil {
		return models.TransactionView{}, err
	}

	if _, err := tx.ApplyBalanceDelta(ctx, caller.ID, req.Amount.Neg(), nil); err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			return models.TransactionView{}, apperr.Wrap(apperr.KindInvalidAmount, "insufficient balance", err)
		}
		return models.TransactionView{}, err
	}

	if _, err := tx.ApplyBalanceDelta(ctx, receiver.ID, req.Amount, nil); err != nil {
		return models.TransactionView{}, fmt.Errorf("credit receiver: %w", err)
	}

	t, err := tx.AppendTransaction(ctx, models.NewTransaction{
		SenderID:   caller.ID,
		ReceiverID: receiver.ID,
		Amount:     req.Amount,
	})
	if err != nil {
		return models.TransactionView{}, fmt.Errorf("append transaction: %w", err)
	}

	if l.opts.PublishEvents {
		msg, err := events.NewTransactionCreated(t)
		if err != nil {
			return models.TransactionView{}, err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return models.TransactionView{}, fmt.Errorf("enqueue event: %w", err)
		}
	}

	ref := receiver.Ref()
	return models.TransactionView{
		ID:        t.ID,
		Sender:    caller.Ref(),
		Receiver:  &ref,
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt,
	}, nil
}

// retry reruns fn while it fails with storage.ErrConflict, at most MaxRetries extra times.
func (l *Ledger) retry(ctx context.Context, log *slog.Logger, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, storage.ErrConflict) || attempt >= l.opts.MaxRetries {
			return err
		}

		log.Warn("Retrying after conflict", slog.Int("attempt", attempt+1), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
}
