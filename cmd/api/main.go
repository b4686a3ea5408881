package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/api"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/config"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/events"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/events/publisher"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/ledger"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage/memory"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage/postgres"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage.Driver),
	)

	store, err := setupStorage(cfg, log)
	if err != nil {
		log.Error("Failed to set up storage", slog.Any("error", err))
		os.Exit(1)
	}

	startingBalance, err := cfg.Ledger.StartingBalanceAmount()
	if err != nil {
		log.Error("Invalid ledger config", slog.Any("error", err))
		os.Exit(1)
	}
	maxTransfer, err := cfg.Ledger.MaxTransferAmountLimit()
	if err != nil {
		log.Error("Invalid ledger config", slog.Any("error", err))
		os.Exit(1)
	}

	l := ledger.New(store, log, ledger.Options{
		Policy: ledger.Policy{
			StartingBalance:   startingBalance,
			MaxTransferAmount: maxTransfer,
		},
		JWTSecret:     cfg.JWT.Secret,
		TokenTTL:      cfg.JWT.TokenTTL,
		OpTimeout:     cfg.Storage.OpTimeout,
		MaxRetries:    cfg.Ledger.MaxRetries,
		BcryptCost:    cfg.Ledger.BcryptCost,
		PublishEvents: cfg.Events.Enabled,
	})

	var (
		relay    *events.Relay
		producer *publisher.Kafka
	)
	if cfg.Events.Enabled {
		producer = publisher.NewKafka(cfg.Events.Brokers, cfg.Events.Topic, log)
		relay, err = events.NewRelay(store, producer, log, events.RelayConfig{
			RelaySchedule: cfg.Events.RelaySchedule,
			PurgeSchedule: cfg.Events.PurgeSchedule,
			Retention:     cfg.Events.Retention,
			BatchSize:     cfg.Events.BatchSize,
		})
		if err != nil {
			log.Error("Failed to set up outbox relay", slog.Any("error", err))
			os.Exit(1)
		}
		relay.Start()
	}

	apiServer := api.New(cfg, log, l, store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", slog.Any("error", err))
	}

	if relay != nil {
		relay.Stop(ctx)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("Closing kafka producer error", slog.Any("error", err))
		}
	}

	if err := store.Close(); err != nil {
		log.Error("Closing storage error", slog.Any("error", err))
	}
}

func setupStorage(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		log.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	dbUrl := cfg.Postgres.URL()

	if cfg.Migrations.RunOnStart {
		applied, err := postgres.Migrate(dbUrl, cfg.Migrations.Path, cfg.Migrations.Table)
		if err != nil {
			return nil, err
		}
		log.Info("Migrations checked", slog.Bool("applied", applied))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return postgres.New(ctx, dbUrl, cfg.Postgres.MaxOpenConns, log)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
