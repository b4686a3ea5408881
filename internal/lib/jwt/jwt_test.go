package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/google/uuid"
)

func TestRoundTrip(t *testing.T) {
	account := models.Account{ID: uuid.New(), Username: "pedro"}

	token, err := NewToken(account, "secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	id, err := ParseToken(token, "secret")
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if id != account.ID {
		t.Errorf("expected subject %s, got %s", account.ID, id)
	}
}

func TestParseRejects(t *testing.T) {
	account := models.Account{ID: uuid.New(), Username: "pedro"}

	expired, err := NewToken(account, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}
	valid, err := NewToken(account, "secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}

	cases := []struct {
		name   string
		token  string
		secret string
	}{
		{"expired", expired, "secret"},
		{"wrong secret", valid, "other"},
		{"garbage", "not-a-token", "secret"},
		{"empty", "", "secret"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseToken(tc.token, tc.secret)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
