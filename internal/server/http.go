package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"MarginVault/internal/asset"
	"MarginVault/internal/observability"
	"MarginVault/internal/pool"
	"MarginVault/internal/swap"
	"MarginVault/internal/vault"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CallerHeader names the header carrying the caller identity for mutating
// endpoints. The engine enforces what that caller may do.
const CallerHeader = "X-Vault-Caller"

// Server is the HTTP/JSON API over the vault engine. Engine access is
// serialized through one mutex: the engine itself is single-writer and the
// read endpoints want a consistent view.
type Server struct {
	mu     sync.Mutex
	engine *vault.Engine

	httpServer *http.Server
	health     *observability.HealthChecker
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func New(addr string, engine *vault.Engine, health *observability.HealthChecker, metrics *observability.Metrics) *Server {
	s := &Server{
		engine:  engine,
		health:  health,
		metrics: metrics,
		log:     observability.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{token}", s.handleGetPool)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/balances/{token}", s.handleGetBalance)
			r.Get("/positions", s.handleListPositions)
			r.Get("/shares/{token}", s.handleGetShares)
			r.Post("/fund", s.handleFund)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/swap", s.handleSwapMargin)
		})

		r.Post("/liquidity/deposit", s.handleDepositLiquidity)
		r.Post("/liquidity/withdraw", s.handleWithdrawLiquidity)

		r.Post("/positions/open", s.handleOpenPosition)
		r.Route("/positions/{uid}", func(r chi.Router) {
			r.Get("/", s.handleGetPosition)
			r.Post("/add-margin", s.handleAddMargin)
			r.Post("/remove-margin", s.handleRemoveMargin)
			r.Post("/reduce", s.handleReducePosition)
			r.Post("/close", s.handleClosePosition)
			r.Post("/liquidate", s.handleLiquidate)
		})

		r.Post("/accrue/{token}", s.handleAccrue)
		r.Post("/bad-debt/repay", s.handleRepayBadDebt)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Put("/markets", s.handleSetMarket)
			r.Put("/fees", s.handleSetFees)
			r.Put("/accepting-orders", s.handleSetAcceptingOrders)
		})
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// WithEngine runs fn holding the same lock the request handlers use.
// Background loops (snapshots, periodic accrual) go through this so they see
// a quiesced engine.
func (s *Server) WithEngine(fn func(*vault.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.engine)
}

// --- middleware ---

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics == nil {
			return
		}
		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unknown"
		}
		s.metrics.HTTPRequests.WithLabelValues(endpoint, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

// --- request plumbing ---

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, apiError{Error: err.Error()})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, vault.ErrPositionNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, vault.ErrNotAcceptingOrders):
		s.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, vault.ErrTokenNotWhitelisted),
		errors.Is(err, vault.ErrMarketDisabled),
		errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, swap.ErrInvalidPath):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, vault.ErrInsufficientMargin),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrInsufficientLiquidity),
		errors.Is(err, vault.ErrExceedsMaxLeverage),
		errors.Is(err, vault.ErrNotLiquidatable),
		errors.Is(err, vault.ErrCooldown),
		errors.Is(err, swap.ErrSlippage):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func caller(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(CallerHeader)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("missing %s header", CallerHeader)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s header: %w", CallerHeader, err)
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return id, nil
}

func pathToken(r *http.Request) asset.Token {
	return asset.Token(chi.URLParam(r, "token"))
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, errors.New("amount required")
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

func parseOptionalAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(raw)
}

func parseTier(raw string) (pool.Tier, error) {
	switch raw {
	case "base":
		return pool.TierBase, nil
	case "safety_module":
		return pool.TierSafetyModule, nil
	default:
		return 0, fmt.Errorf("invalid tier %q", raw)
	}
}

func parsePath(raw []string) []asset.Token {
	if len(raw) == 0 {
		return nil
	}
	out := make([]asset.Token, len(raw))
	for i, s := range raw {
		out[i] = asset.Token(s)
	}
	return out
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
