package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, s *Storage, username string, balance int64) models.Account {
	t.Helper()
	acc, err := s.CreateAccount(context.Background(), models.NewAccount{
		Username:    username,
		DisplayName: username,
		Balance:     decimal.NewFromInt(balance),
	})
	require.NoError(t, err)
	return acc
}

func TestCreateAccountRejectsDuplicateUsername(t *testing.T) {
	s := New()
	mustCreate(t, s, "pedro", 500)

	_, err := s.CreateAccount(context.Background(), models.NewAccount{Username: "pedro", DisplayName: "Other"})
	assert.ErrorIs(t, err, storage.ErrUsernameTaken)

	acc, err := s.AccountByUsername(context.Background(), "pedro")
	require.NoError(t, err)
	assert.Equal(t, "500", acc.Balance.String())

	_, err = s.Account(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyBalanceDeltaGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := mustCreate(t, s, "pedro", 100)

	_, err := s.ApplyBalanceDelta(ctx, acc.ID, decimal.NewFromInt(-101), nil)
	assert.ErrorIs(t, err, storage.ErrInsufficientFunds)

	wrong := decimal.NewFromInt(99)
	_, err = s.ApplyBalanceDelta(ctx, acc.ID, decimal.NewFromInt(-1), &wrong)
	assert.ErrorIs(t, err, storage.ErrBalanceMismatch)

	right := decimal.NewFromInt(100)
	got, err := s.ApplyBalanceDelta(ctx, acc.ID, decimal.NewFromInt(-100), &right)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())

	_, err = s.ApplyBalanceDelta(ctx, uuid.New(), decimal.NewFromInt(1), nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyBalanceDeltaConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	s := New()
	acc := mustCreate(t, s, "pedro", 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ApplyBalanceDelta(ctx, acc.ID, decimal.NewFromInt(-3), nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := s.Account(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 33, succeeded)
	assert.Equal(t, "1", got.Balance.String())
}

func TestRunInTxRollsBackEveryStep(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := mustCreate(t, s, "alice", 500)
	b := mustCreate(t, s, "bob", 500)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.ApplyBalanceDelta(ctx, a.ID, decimal.NewFromInt(-100), nil); err != nil {
			return err
		}
		if _, err := tx.ApplyBalanceDelta(ctx, b.ID, decimal.NewFromInt(100), nil); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(ctx, models.NewTransaction{SenderID: a.ID, ReceiverID: b.ID, Amount: decimal.NewFromInt(100)}); err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, models.OutboxMessage{EventType: models.EventTransactionCreated}); err != nil {
			return err
		}
		if _, err := tx.CreateAccount(ctx, models.NewAccount{Username: "carol"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	gotA, _ := s.Account(ctx, a.ID)
	gotB, _ := s.Account(ctx, b.ID)
	assert.Equal(t, "500", gotA.Balance.String())
	assert.Equal(t, "500", gotB.Balance.String())

	items, total, err := s.ListTransactions(ctx, a.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)

	pending, err := s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.AccountByUsername(ctx, "carol")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunInTxCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunInTx(ctx, func(tx storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestListTransactionsOrderingAndWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a := mustCreate(t, s, "alice", 500)
	b := mustCreate(t, s, "bob", 500)
	c := mustCreate(t, s, "carol", 500)

	for i := 1; i <= 5; i++ {
		_, err := s.AppendTransaction(ctx, models.NewTransaction{SenderID: a.ID, ReceiverID: b.ID, Amount: decimal.NewFromInt(int64(i))})
		require.NoError(t, err)
	}
	_, err := s.AppendTransaction(ctx, models.NewTransaction{SenderID: b.ID, ReceiverID: c.ID, Amount: decimal.NewFromInt(9)})
	require.NoError(t, err)

	items, total, err := s.ListTransactions(ctx, a.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, "5", items[0].Amount.String())
	assert.Equal(t, "4", items[1].Amount.String())
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))
	assert.Equal(t, "alice", items[0].Sender.Username)
	require.NotNil(t, items[0].Receiver)
	assert.Equal(t, "bob", items[0].Receiver.Username)

	items, total, err = s.ListTransactions(ctx, a.ID, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, items)

	_, total, err = s.ListTransactions(ctx, b.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.EnqueueOutbox(ctx, models.OutboxMessage{EventType: models.EventTransactionCreated, Payload: []byte("{}")}))
	}

	pending, err := s.PendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)

	sentAt := time.Now().Add(-time.Hour)
	require.NoError(t, s.MarkOutboxSent(ctx, pending[0].ID, sentAt))
	assert.ErrorIs(t, s.MarkOutboxSent(ctx, 42, sentAt), storage.ErrNotFound)

	pending, err = s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	purged, err := s.PurgeOutbox(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
