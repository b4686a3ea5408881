package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/ledger-transfer/internal/config"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/ledger"
	"github.com/IlyasAtabaev731/ledger-transfer/internal/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIServer struct {
	config  *config.Config
	logger  *slog.Logger
	server  *http.Server
	ledger  *ledger.Ledger
	storage storage.Storage
}

func New(config *config.Config, logger *slog.Logger, ledger *ledger.Ledger, storage storage.Storage) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ledger:  ledger,
		storage: storage,
	}
	s.server.Handler = s.configureRouter()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) configureRouter() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument)

	router.HandleFunc("/api/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/api/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/api/me", s.authenticate(s.meHandler())).Methods("GET")
	router.HandleFunc("/api/transactions", s.authenticate(s.createTransactionHandler())).Methods("POST")
	router.HandleFunc("/api/transactions", s.authenticate(s.transactionsHandler())).Methods("GET")
	router.HandleFunc("/health", s.healthHandler()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}

// authenticate resolves the bearer token and stores the caller's account in the request context.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.ledger.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			s.respondError(w, r, err)
			return
		}

		next(w, r.WithContext(ledger.WithAccount(r.Context(), acc)))
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
