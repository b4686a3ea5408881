package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresStore migrates a fresh schema on LEDGER_TEST_POSTGRES_DSN and
// drops it afterwards, so it never touches tables other packages truncate.
func newPostgresStore(t *testing.T) storage.Storage {
	t.Helper()

	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN is not set")
	}

	admin, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := "ledger_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec("CREATE SCHEMA " + schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.Exec("DROP SCHEMA " + schema + " CASCADE") })

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	scoped := u.String()

	_, err = postgres.Migrate(scoped, "../../migrations", "migrations")
	require.NoError(t, err)

	store, err := postgres.New(context.Background(), scoped, 20, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestPostgresTransferOppositeDirections(t *testing.T) {
	store := newPostgresStore(t)
	l := newTestLedger(t, store, testOptions())
	a := register(t, l, "alice")
	b := register(t, l, "bob")

	const perSide = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < perSide; i++ {
		for _, pair := range [][2]models.Account{{a, b}, {b, a}} {
			wg.Add(1)
			go func(from, to models.Account) {
				defer wg.Done()
				_, err := l.Transfer(context.Background(), from.ID, TransferInput{Receiver: to.ID.String(), Amount: "1"})
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(pair[0], pair[1])
		}
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, "500.00", balance(t, store, a.ID))
	assert.Equal(t, "500.00", balance(t, store, b.ID))

	page, err := l.History(context.Background(), a.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2*perSide, page.Total)
}

func TestPostgresTransferNoDoubleSpend(t *testing.T) {
	store := newPostgresStore(t)
	l := newTestLedger(t, store, testOptions())
	a := register(t, l, "alice")
	b := register(t, l, "bob")
	c := register(t, l, "carol")

	for round := 0; round < 5; round++ {
		before, err := store.Account(context.Background(), a.ID)
		require.NoError(t, err)
		amount := before.Balance.Div(decimal.NewFromInt(2)).Add(decimal.NewFromInt(1)).Truncate(2)
		if amount.GreaterThan(before.Balance) {
			break
		}

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i, to := range []models.Account{b, c} {
			i, to := i, to
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = l.Transfer(context.Background(), a.ID, TransferInput{Receiver: to.ID.String(), Amount: amount.String()})
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.Equal(t, apperr.KindInvalidAmount, apperr.KindOf(err), fmt.Sprint(err))
		}
		require.Equal(t, 1, succeeded, "round %d", round)

		after, err := store.Account(context.Background(), a.ID)
		require.NoError(t, err)
		assert.True(t, after.Balance.Equal(before.Balance.Sub(amount)), "round %d: %s", round, after.Balance)
	}

	total := decimal.Zero
	for _, acc := range []models.Account{a, b, c} {
		got, err := store.Account(context.Background(), acc.ID)
		require.NoError(t, err)
		assert.False(t, got.Balance.IsNegative())
		total = total.Add(got.Balance)
	}
	assert.Equal(t, "1500.00", total.StringFixed(2))
}
