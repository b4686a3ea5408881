// Package memory is a process-local storage.Storage. Units of work are
// serialized behind a write lock and undone from a journal when they fail.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Storage struct {
	mu sync.RWMutex

	accounts     map[uuid.UUID]models.Account
	byUsername   map[string]uuid.UUID
	transactions []models.Transaction
	outbox       []models.OutboxMessage

	lastTxID     int64
	lastOutboxID int64
	lastCreated  time.Time
	now          func() time.Time
}

var _ storage.Storage = (*Storage)(nil)

func New() *Storage {
	return &Storage{
		accounts:   make(map[uuid.UUID]models.Account),
		byUsername: make(map[string]uuid.UUID),
		now:        time.Now,
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "storage.memory.RunInTx"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := &view{s: s, journal: &journal{}}
	if err := fn(v); err != nil {
		v.journal.rollback()
		return err
	}

	// commit point: a cancelled caller past this line still gets the transfer
	if err := ctx.Err(); err != nil {
		v.journal.rollback()
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	return nil
}

func (s *Storage) Account(ctx context.Context, id uuid.UUID) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().Account(ctx, id)
}

func (s *Storage) AccountByUsername(ctx context.Context, username string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().AccountByUsername(ctx, username)
}

func (s *Storage) CreateAccount(ctx context.Context, acc models.NewAccount) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().CreateAccount(ctx, acc)
}

func (s *Storage) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, expected *decimal.Decimal) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ApplyBalanceDelta(ctx, id, delta, expected)
}

func (s *Storage) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LockAccounts(ctx, ids...)
}

func (s *Storage) AppendTransaction(ctx context.Context, t models.NewTransaction) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().AppendTransaction(ctx, t)
}

func (s *Storage) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.TransactionView, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTransactions(ctx, accountID, limit, offset)
}

func (s *Storage) EnqueueOutbox(ctx context.Context, msg models.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().EnqueueOutbox(ctx, msg)
}

func (s *Storage) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().PendingOutbox(ctx, limit)
}

func (s *Storage) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().MarkOutboxSent(ctx, id, at)
}

func (s *Storage) PurgeOutbox(ctx context.Context, sentBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().PurgeOutbox(ctx, sentBefore)
}

// view returns an unjournaled view; callers hold s.mu.
func (s *Storage) view() *view {
	return &view{s: s}
}

type journal struct {
	undo []func()
}

func (j *journal) record(fn func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, fn)
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// view implements storage.Tx without locking.
type view struct {
	s       *Storage
	journal *journal
}

func (v *view) Account(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const op = "storage.memory.Account"

	if err := ctx.Err(); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	acc, ok := v.s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return acc, nil
}

func (v *view) AccountByUsername(ctx context.Context, username string) (models.Account, error) {
	const op = "storage.memory.AccountByUsername"

	if err := ctx.Err(); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	id, ok := v.s.byUsername[username]
	if !ok {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return v.s.accounts[id], nil
}

func (v *view) CreateAccount(ctx context.Context, in models.NewAccount) (models.Account, error) {
	const op = "storage.memory.CreateAccount"

	if err := ctx.Err(); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
	if _, ok := v.s.byUsername[in.Username]; ok {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrUsernameTaken)
	}

	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	acc := models.Account{
		ID:           id,
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		PasswordHash: in.PasswordHash,
		Balance:      in.Balance,
		CreatedAt:    v.s.now().UTC(),
	}
	v.s.accounts[id] = acc
	v.s.byUsername[in.Username] = id

	v.journal.record(func() {
		delete(v.s.accounts, id)
		delete(v.s.byUsername, in.Username)
	})

	return acc, nil
}

func (v *view) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, expected *decimal.Decimal) (models.Account, error) {
	const op = "storage.memory.ApplyBalanceDelta"

	if err := ctx.Err(); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	acc, ok := v.s.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	if expected != nil && !acc.Balance.Equal(*expected) {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrBalanceMismatch)
	}

	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrInsufficientFunds)
	}

	prev := acc
	acc.Balance = next
	v.s.accounts[id] = acc

	v.journal.record(func() {
		v.s.accounts[id] = prev
	})

	return acc, nil
}

// LockAccounts only checks existence: the write lock held by RunInTx already
// excludes every other writer.
func (v *view) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	const op = "storage.memory.LockAccounts"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
	for _, id := range storage.SortIDs(ids) {
		if _, ok := v.s.accounts[id]; !ok {
			return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
	}
	return nil
}

func (v *view) AppendTransaction(ctx context.Context, in models.NewTransaction) (models.Transaction, error) {
	const op = "storage.memory.AppendTransaction"

	if err := ctx.Err(); err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}
	if !in.Amount.IsPositive() {
		return models.Transaction{}, fmt.Errorf("%s: amount must be positive", op)
	}
	if in.SenderID == in.ReceiverID {
		return models.Transaction{}, fmt.Errorf("%s: sender equals receiver", op)
	}

	prevID, prevCreated := v.s.lastTxID, v.s.lastCreated

	created := v.s.now().UTC().Truncate(time.Microsecond)
	if !created.After(v.s.lastCreated) {
		created = v.s.lastCreated.Add(time.Microsecond)
	}
	v.s.lastCreated = created
	v.s.lastTxID++

	t := models.Transaction{
		ID:         v.s.lastTxID,
		SenderID:   in.SenderID,
		ReceiverID: uuid.NullUUID{UUID: in.ReceiverID, Valid: true},
		Amount:     in.Amount,
		CreatedAt:  created,
	}
	v.s.transactions = append(v.s.transactions, t)

	v.journal.record(func() {
		v.s.transactions = v.s.transactions[:len(v.s.transactions)-1]
		v.s.lastTxID, v.s.lastCreated = prevID, prevCreated
	})

	return t, nil
}

func (v *view) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.TransactionView, int, error) {
	const op = "storage.memory.ListTransactions"

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	var matched []models.Transaction
	for _, t := range v.s.transactions {
		if t.SenderID == accountID || (t.ReceiverID.Valid && t.ReceiverID.UUID == accountID) {
			matched = append(matched, t)
		}
	}

	slices.SortStableFunc(matched, func(a, b models.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	total := len(matched)
	items := make([]models.TransactionView, 0)
	if offset >= total || limit <= 0 {
		return items, total, nil
	}

	end := min(offset+limit, total)
	for _, t := range matched[offset:end] {
		items = append(items, v.resolve(t))
	}

	return items, total, nil
}

func (v *view) resolve(t models.Transaction) models.TransactionView {
	tv := models.TransactionView{
		ID:        t.ID,
		Sender:    models.AccountRef{ID: t.SenderID},
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt,
	}
	if sender, ok := v.s.accounts[t.SenderID]; ok {
		tv.Sender = sender.Ref()
	}
	if t.ReceiverID.Valid {
		if receiver, ok := v.s.accounts[t.ReceiverID.UUID]; ok {
			ref := receiver.Ref()
			tv.Receiver = &ref
		}
	}
	return tv
}

func (v *view) EnqueueOutbox(ctx context.Context, msg models.OutboxMessage) error {
	const op = "storage.memory.EnqueueOutbox"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	v.s.lastOutboxID++
	msg.ID = v.s.lastOutboxID
	msg.Payload = slices.Clone(msg.Payload)
	msg.CreatedAt = v.s.now().UTC()
	msg.SentAt = nil
	v.s.outbox = append(v.s.outbox, msg)

	v.journal.record(func() {
		v.s.outbox = v.s.outbox[:len(v.s.outbox)-1]
		v.s.lastOutboxID--
	})

	return nil
}

func (v *view) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	const op = "storage.memory.PendingOutbox"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	var pending []models.OutboxMessage
	for _, msg := range v.s.outbox {
		if len(pending) == limit {
			break
		}
		if msg.SentAt == nil {
			msg.Payload = slices.Clone(msg.Payload)
			pending = append(pending, msg)
		}
	}
	return pending, nil
}

func (v *view) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.memory.MarkOutboxSent"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	for i := range v.s.outbox {
		if v.s.outbox[i].ID != id {
			continue
		}
		prev := v.s.outbox[i].SentAt
		sentAt := at
		v.s.outbox[i].SentAt = &sentAt
		v.journal.record(func() {
			v.s.outbox[i].SentAt = prev
		})
		return nil
	}
	return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

func (v *view) PurgeOutbox(ctx context.Context, sentBefore time.Time) (int64, error) {
	const op = "storage.memory.PurgeOutbox"

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
	}

	prev := v.s.outbox
	kept := make([]models.OutboxMessage, 0, len(prev))
	for _, msg := range prev {
		if msg.SentAt != nil && msg.SentAt.Before(sentBefore) {
			continue
		}
		kept = append(kept, msg)
	}
	v.s.outbox = kept

	v.journal.record(func() {
		v.s.outbox = prev
	})

	return int64(len(prev) - len(kept)), nil
}
