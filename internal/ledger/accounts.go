package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/jwt"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const invalidCredentialsMessage = "invalid username or password"

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minNameLen     = 3
	maxNameLen     = 64
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
)

type RegisterInput struct {
	Username string
	Name     string
	Password string
}

// Register creates an account holding the configured starting balance.
func (l *Ledger) Register(ctx context.Context, in RegisterInput) (models.Account, error) {
	log := l.logger.With(slog.String("op", "ledger.Register"))

	username := strings.TrimSpace(in.Username)
	name := strings.TrimSpace(in.Name)
	if err := validateRegistration(username, name, in.Password); err != nil {
		return models.Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), l.opts.BcryptCost)
	if err != nil {
		log.Error("Failed to hash password", slog.Any("error", err))
		return models.Account{}, apperr.Wrap(apperr.KindInternal, "registration failed", err).WithCode(apperr.CodeRegistrationFailed)
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	acc, err := l.store.CreateAccount(ctx, models.NewAccount{
		Username:     username,
		DisplayName:  name,
		PasswordHash: string(hash),
		Balance:      l.opts.Policy.StartingBalance,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			return models.Account{}, apperr.Wrap(apperr.KindConflict, "username already exists", err).WithCode(apperr.CodeDuplicateUsername)
		}
		log.Error("Failed to create account", slog.Any("error", err))
		return models.Account{}, apperr.Wrap(apperr.KindInternal, "registration failed", err).WithCode(apperr.CodeRegistrationFailed)
	}

	log.Info("Account registered", slog.String("id", acc.ID.String()), slog.String("username", acc.Username))
	return acc, nil
}

func validateRegistration(username, name, password string) error {
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return apperr.Validation("username must be between %d and %d characters", minUsernameLen, maxUsernameLen)
	}
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return apperr.Validation("name must be between %d and %d characters", minNameLen, maxNameLen)
	}
	if utf8.RuneCountInString(strings.TrimSpace(password)) < minPasswordLen {
		return apperr.Validation("password must be at least %d characters", minPasswordLen)
	}
	if len(password) > maxPasswordBytes {
		return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

// Login checks the credentials and issues a bearer token. An unknown username
// and a wrong password fail with the same error.
func (l *Ledger) Login(ctx context.Context, username, password string) (string, models.Account, error) {
	log := l.logger.With(slog.String("op", "ledger.Login"))

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", models.Account{}, apperr.Validation("username and password are required")
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	acc, err := l.store.AccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(l.dummyHash, []byte(password))
			return "", models.Account{}, apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
		}
		return "", models.Account{}, storeError(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		log.Debug("Password mismatch", slog.String("username", username))
		return "", models.Account{}, apperr.New(apperr.KindInvalidCredentials, invalidCredentialsMessage)
	}

	token, err := jwt.NewToken(acc, l.opts.JWTSecret, l.opts.TokenTTL)
	if err != nil {
		return "", models.Account{}, apperr.Internal(err)
	}

	return token, acc, nil
}
