package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/crypto/bcrypt"
)

// seeder bulk-creates accounts for load testing. Every seeded account shares
// one password so a load generator can log in as any of them.
func main() {
	var (
		count    int
		prefix   string
		password string
	)
	flag.IntVar(&count, "count", 1000, "number of accounts to create")
	flag.StringVar(&prefix, "prefix", "seed", "username prefix")
	flag.StringVar(&password, "password", "password1", "password shared by every seeded account")

	cfg := config.MustLoad()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if count <= 0 {
		log.Error("count must be positive")
		os.Exit(1)
	}
	if len(prefix)+len(fmt.Sprint(count)) > 20 {
		log.Error("prefix too long for the username limit", slog.String("prefix", prefix))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.Postgres.URL())
	if err != nil {
		log.Error("Unable to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close(ctx)

	var existing int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM accounts WHERE username LIKE $1 || '%'", prefix).Scan(&existing); err != nil {
		log.Error("Failed to count accounts", slog.Any("error", err))
		os.Exit(1)
	}
	if existing > 0 {
		log.Info("Accounts with this prefix already exist, skipping", slog.Int("count", existing), slog.String("prefix", prefix))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.Ledger.BcryptCost)
	if err != nil {
		log.Error("Failed to hash password", slog.Any("error", err))
		os.Exit(1)
	}

	var balance pgtype.Numeric
	if err := balance.Scan(cfg.Ledger.StartingBalance); err != nil {
		log.Error("Invalid starting balance", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Generating accounts", slog.Int("count", count))

	now := time.Now()
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		username := fmt.Sprintf("%s%d", prefix, i)
		rows = append(rows, []any{
			pgtype.UUID{Bytes: uuid.New(), Valid: true},
			username,
			"Seeded " + username,
			string(hash),
			balance,
			now,
		})
	}

	copied, err := conn.CopyFrom(
		ctx,
		pgx.Identifier{"accounts"},
		[]string{"id", "username", "display_name", "password_hash", "balance", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		log.Error("Bulk insert failed", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("Seeded accounts", slog.Int64("count", copied))
}
