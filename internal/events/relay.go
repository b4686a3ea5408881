package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/robfig/cron/v3"
)

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type RelayConfig struct {
	RelaySchedule string
	PurgeSchedule string
	Retention     time.Duration
	BatchSize     int
	// Timeout bounds a single relay or purge run.
	Timeout time.Duration
}

// Relay periodically publishes pending outbox rows and purges old sent ones.
type Relay struct {
	store     storage.Outbox
	publisher Publisher
	logger    *slog.Logger
	cfg       RelayConfig
	cron      *cron.Cron
	now       func() time.Time
}

func NewRelay(store storage.Outbox, publisher Publisher, logger *slog.Logger, cfg RelayConfig) (*Relay, error) {
	const op = "events.NewRelay"

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "outbox-relay")),
		cfg:       cfg,
		now:       time.Now,
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(r.logger.Handler(), slog.LevelDebug))
	r.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	if _, err := r.cron.AddFunc(cfg.RelaySchedule, r.runRelay); err != nil {
		return nil, fmt.Errorf("%s: relay schedule: %w", op, err)
	}
	if cfg.PurgeSchedule != "" {
		if _, err := r.cron.AddFunc(cfg.PurgeSchedule, r.runPurge); err != nil {
			return nil, fmt.Errorf("%s: purge schedule: %w", op, err)
		}
	}

	return r, nil
}

func (r *Relay) Start() {
	r.cron.Start()
	r.logger.Info("Outbox relay started", slog.String("schedule", r.cfg.RelaySchedule))
}

// Stop waits for running jobs to finish or for ctx to expire.
func (r *Relay) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("Outbox relay stopped")
	case <-ctx.Done():
		r.logger.Warn("Outbox relay stop timed out")
	}
}

func (r *Relay) runRelay() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if _, err := r.RelayOnce(ctx); err != nil {
		r.logger.Error("Failed to relay outbox", slog.Any("error", err))
	}
}

func (r *Relay) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if _, err := r.PurgeOnce(ctx); err != nil {
		r.logger.Error("Failed to purge outbox", slog.Any("error", err))
	}
}

// RelayOnce publishes up to one batch of pending rows in id order and returns
// how many were sent. It stops at the first publish failure so later events
// never overtake an earlier one; the failed row stays pending.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	const op = "events.RelayOnce"

	pending, err := r.store.PendingOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	sent := 0
	for _, msg := range pending {
		if err := r.publisher.Publish(ctx, msg.AggregateID, msg.Payload); err != nil {
			return sent, fmt.Errorf("%s: publish %d: %w", op, msg.ID, err)
		}
		if err := r.store.MarkOutboxSent(ctx, msg.ID, r.now()); err != nil {
			return sent, fmt.Errorf("%s: mark %d: %w", op, msg.ID, err)
		}
		sent++
	}

	r.logger.Debug("Relayed outbox messages", slog.Int("count", sent))
	return sent, nil
}

// PurgeOnce deletes sent rows older than the retention period.
func (r *Relay) PurgeOnce(ctx context.Context) (int64, error) {
	const op = "events.PurgeOnce"

	purged, err := r.store.PurgeOutbox(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if purged > 0 {
		r.logger.Info("Purged sent outbox messages", slog.Int64("count", purged))
	}
	return purged, nil
}
