package ledger

import (
	"context"
	"errors"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/jwt"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
)

const unauthenticatedMessage = "authentication required"

type accountKey struct{}

// Resolve maps a bearer token to the account it was issued for. A malformed,
// expired or forged token and a token for a missing account all fail alike.
func (l *Ledger) Resolve(ctx context.Context, token string) (models.Account, error) {
	if token == "" {
		return models.Account{}, apperr.New(apperr.KindUnauthenticated, unauthenticatedMessage)
	}

	id, err := jwt.ParseToken(token, l.opts.JWTSecret)
	if err != nil {
		return models.Account{}, apperr.Wrap(apperr.KindUnauthenticated, unauthenticatedMessage, err)
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	acc, err := l.store.Account(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Account{}, apperr.Wrap(apperr.KindUnauthenticated, unauthenticatedMessage, err)
		}
		return models.Account{}, storeError(err)
	}

	return acc, nil
}

func WithAccount(ctx context.Context, acc models.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, acc)
}

func AccountFromContext(ctx context.Context) (models.Account, bool) {
	acc, ok := ctx.Value(accountKey{}).(models.Account)
	return acc, ok
}
