package postgres

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies every pending migration from migrationsPath. It reports
// false when the schema was already up to date.
func Migrate(dbUrl, migrationsPath, migrationsTable string) (bool, error) {
	const op = "storage.postgres.Migrate"

	u, err := url.Parse(dbUrl)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if migrationsTable != "" {
		q := u.Query()
		q.Set("x-migrations-table", migrationsTable)
		u.RawQuery = q.Encode()
	}

	m, err := migrate.New("file://"+migrationsPath, u.String())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}
