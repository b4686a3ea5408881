package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
	q      *queries
}

var _ storage.Storage = (*Storage)(nil)

func New(ctx context.Context, dbUrl string, maxOpenConns int, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	return &Storage{db: db, logger: logger, q: &queries{db: db}}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "storage.postgres.RunInTx"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("Failed to rollback transaction", slog.String("op", op), slog.Any("error", err))
		}
	}()

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, classify(err))
	}

	return nil
}

func (s *Storage) Account(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return s.q.Account(ctx, id)
}

func (s *Storage) AccountByUsername(ctx context.Context, username string) (models.Account, error) {
	return s.q.AccountByUsername(ctx, username)
}

func (s *Storage) CreateAccount(ctx context.Context, acc models.NewAccount) (models.Account, error) {
	return s.q.CreateAccount(ctx, acc)
}

func (s *Storage) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, expected *decimal.Decimal) (models.Account, error) {
	return s.q.ApplyBalanceDelta(ctx, id, delta, expected)
}

// LockAccounts outside a unit of work only checks that the rows exist.
func (s *Storage) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	return s.q.LockAccounts(ctx, ids...)
}

func (s *Storage) AppendTransaction(ctx context.Context, t models.NewTransaction) (models.Transaction, error) {
	return s.q.AppendTransaction(ctx, t)
}

// ListTransactions reads the count and the page from one repeatable-read snapshot
// so total and items always agree.
func (s *Storage) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.TransactionView, int, error) {
	const op = "storage.postgres.ListTransactions"

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	items, total, err := (&queries{db: tx}).ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	return items, total, nil
}

func (s *Storage) EnqueueOutbox(ctx context.Context, msg models.OutboxMessage) error {
	return s.q.EnqueueOutbox(ctx, msg)
}

func (s *Storage) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	return s.q.PendingOutbox(ctx, limit)
}

func (s *Storage) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	return s.q.MarkOutboxSent(ctx, id, at)
}

func (s *Storage) PurgeOutbox(ctx context.Context, sentBefore time.Time) (int64, error) {
	return s.q.PurgeOutbox(ctx, sentBefore)
}

// queries implements storage.Tx over a querier.
type queries struct {
	db querier
}

const accountColumns = "id, username, display_name, password_hash, balance, created_at"

func scanAccount(row interface{ Scan(dest ...any) error }) (models.Account, error) {
	var acc models.Account
	err := row.Scan(&acc.ID, &acc.Username, &acc.DisplayName, &acc.PasswordHash, &acc.Balance, &acc.CreatedAt)
	return acc, err
}

func (q *queries) Account(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const op = "storage.postgres.Account"

	acc, err := scanAccount(q.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return acc, nil
}

func (q *queries) AccountByUsername(ctx context.Context, username string) (models.Account, error) {
	const op = "storage.postgres.AccountByUsername"

	acc, err := scanAccount(q.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE username = $1", username))
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return acc, nil
}

func (q *queries) CreateAccount(ctx context.Context, in models.NewAccount) (models.Account, error) {
	const op = "storage.postgres.CreateAccount"

	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	acc, err := scanAccount(q.db.QueryRowContext(ctx,
		"INSERT INTO accounts (id, username, display_name, password_hash, balance) VALUES ($1, $2, $3, $4, $5) RETURNING "+accountColumns,
		id, in.Username, in.DisplayName, in.PasswordHash, in.Balance,
	))
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return acc, nil
}

// ApplyBalanceDelta guards and mutates in the same statement, so no concurrent
// debit can slip in between a balance check and the write.
func (q *queries) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal, expected *decimal.Decimal) (models.Account, error) {
	const op = "storage.postgres.ApplyBalanceDelta"

	var expectedArg decimal.NullDecimal
	if expected != nil {
		expectedArg = decimal.NullDecimal{Decimal: *expected, Valid: true}
	}

	acc, err := scanAccount(q.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2
		WHERE id = $1
		  AND balance + $2 >= 0
		  AND ($3::numeric IS NULL OR balance = $3::numeric)
		RETURNING `+accountColumns,
		id, delta, expectedArg,
	))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	// No row matched: find out which guard refused the update.
	var current decimal.Decimal
	err = q.db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = $1", id).Scan(&current)
	if err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	if expected != nil && !current.Equal(*expected) {
		return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrBalanceMismatch)
	}

	return models.Account{}, fmt.Errorf("%s: %w", op, storage.ErrInsufficientFunds)
}

func (q *queries) LockAccounts(ctx context.Context, ids ...uuid.UUID) error {
	const op = "storage.postgres.LockAccounts"

	for _, id := range storage.SortIDs(ids) {
		var locked uuid.UUID
		err := q.db.QueryRowContext(ctx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&locked)
		if err != nil {
			return fmt.Errorf("%s: %w", op, classify(err))
		}
	}

	return nil
}

func (q *queries) AppendTransaction(ctx context.Context, in models.NewTransaction) (models.Transaction, error) {
	const op = "storage.postgres.AppendTransaction"

	var t models.Transaction
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO transactions (sender_id, receiver_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, sender_id, receiver_id, amount, created_at`,
		in.SenderID, in.ReceiverID, in.Amount,
	).Scan(&t.ID, &t.SenderID, &t.ReceiverID, &t.Amount, &t.CreatedAt)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.TransactionView, int, error) {
	const op = "storage.postgres.ListTransactions"

	var total int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE sender_id = $1 OR receiver_id = $1",
		accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: count: %w", op, classify(err))
	}

	items := make([]models.TransactionView, 0)
	if limit <= 0 || offset >= total {
		return items, total, nil
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT t.id, t.amount, t.created_at,
		       t.sender_id, s.username, s.display_name,
		       r.id, r.username, r.display_name
		FROM transactions t
		LEFT JOIN accounts s ON s.id = t.sender_id
		LEFT JOIN accounts r ON r.id = t.receiver_id
		WHERE t.sender_id = $1 OR t.receiver_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tv                     models.TransactionView
			senderName, senderDisp sql.NullString
			receiverID             uuid.NullUUID
			receiverName, recvDisp sql.NullString
		)
		if err := rows.Scan(&tv.ID, &tv.Amount, &tv.CreatedAt,
			&tv.Sender.ID, &senderName, &senderDisp,
			&receiverID, &receiverName, &recvDisp,
		); err != nil {
			return nil, 0, fmt.Errorf("%s: scan: %w", op, err)
		}
		tv.Sender.Username = senderName.String
		tv.Sender.DisplayName = senderDisp.String
		if receiverID.Valid {
			tv.Receiver = &models.AccountRef{
				ID:          receiverID.UUID,
				Username:    receiverName.String,
				DisplayName: recvDisp.String,
			}
		}
		items = append(items, tv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	return items, total, nil
}

func (q *queries) EnqueueOutbox(ctx context.Context, msg models.OutboxMessage) error {
	const op = "storage.postgres.EnqueueOutbox"

	_, err := q.db.ExecContext(ctx,
		"INSERT INTO outbox (aggregate_id, event_type, payload) VALUES ($1, $2, $3)",
		msg.AggregateID, msg.EventType, string(msg.Payload),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}

	return nil
}

func (q *queries) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	const op = "storage.postgres.PendingOutbox"

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer rows.Close()

	var messages []models.OutboxMessage
	for rows.Next() {
		var msg models.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	return messages, nil
}

func (q *queries) MarkOutboxSent(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.postgres.MarkOutboxSent"

	res, err := q.db.ExecContext(ctx, "UPDATE outbox SET sent_at = $2 WHERE id = $1", id, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func (q *queries) PurgeOutbox(ctx context.Context, sentBefore time.Time) (int64, error) {
	const op = "storage.postgres.PurgeOutbox"

	res, err := q.db.ExecContext(ctx, "DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < $1", sentBefore)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, classify(err))
	}

	return res.RowsAffected()
}

// classify maps driver errors onto the storage sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrUsernameTaken, pqErr.Constraint)
		case codeCheckViolation:
			return fmt.Errorf("%w: %s", storage.ErrInsufficientFunds, pqErr.Constraint)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %s", storage.ErrUnavailable, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return err
}
