package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/domain/models"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/ledger"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/lib/apperr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxBodyBytes    = 1 << 20
	defaultPageSize = 10
)

type UserResponse struct {
	ID       uuid.UUID       `json:"id"`
	Username string          `json:"username"`
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
}

func userResponse(acc models.Account) UserResponse {
	return UserResponse{
		ID:       acc.ID,
		Username: acc.Username,
		Name:     acc.DisplayName,
		Balance:  acc.Balance,
	}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	User UserResponse `json:"user"`
}

func (s *APIServer) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !s.decode(w, r, &req) {
			return
		}

		acc, err := s.ledger.Register(r.Context(), ledger.RegisterInput{
			Username: req.Username,
			Name:     req.Name,
			Password: req.Password,
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		s.respondJSON(w, http.StatusCreated, RegisterResponse{User: userResponse(acc)})
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

func (s *APIServer) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !s.decode(w, r, &req) {
			return
		}

		token, acc, err := s.ledger.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		s.respondJSON(w, http.StatusOK, LoginResponse{Token: token, User: userResponse(acc)})
	}
}

func (s *APIServer) meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := ledger.AccountFromContext(r.Context())
		if !ok {
			s.respondError(w, r, apperr.New(apperr.KindUnauthenticated, "authentication required"))
			return
		}

		s.respondJSON(w, http.StatusOK, userResponse(acc))
	}
}

// CreateTransactionRequest accepts the amount as a JSON number or a string.
type CreateTransactionRequest struct {
	Receiver string          `json:"receiver"`
	Amount   json.RawMessage `json:"amount"`
}

func (req CreateTransactionRequest) amount() string {
	var str string
	if err := json.Unmarshal(req.Amount, &str); err == nil {
		return str
	}
	return string(req.Amount)
}

func (s *APIServer) createTransactionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := ledger.AccountFromContext(r.Context())
		if !ok {
			s.respondError(w, r, apperr.New(apperr.KindUnauthenticated, "authentication required"))
			return
		}

		var req CreateTransactionRequest
		if !s.decode(w, r, &req) {
			return
		}

		view, err := s.ledger.Transfer(r.Context(), acc.ID, ledger.TransferInput{
			Receiver: req.Receiver,
			Amount:   req.amount(),
		})
		if err != nil {
			transfersTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
			s.respondError(w, r, err)
			return
		}

		transfersTotal.WithLabelValues("OK").Inc()
		transferredAmount.Add(view.Amount.InexactFloat64())

		s.respondJSON(w, http.StatusCreated, view)
	}
}

func (s *APIServer) transactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, ok := ledger.AccountFromContext(r.Context())
		if !ok {
			s.respondError(w, r, apperr.New(apperr.KindUnauthenticated, "authentication required"))
			return
		}

		page, err := queryInt(r, "page", 0)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		pageSize, err := queryInt(r, "pageSize", defaultPageSize)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		pageSize = min(pageSize, ledger.MaxPageSize)

		result, err := s.ledger.History(r.Context(), acc.ID, page, pageSize)
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		s.respondJSON(w, http.StatusOK, result)
	}
}

func (s *APIServer) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.storage.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", slog.Any("error", err))
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}

		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", key)
	}
	return v, nil
}
