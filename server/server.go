// Package server exposes the coin-flip API over HTTP. Handlers delegate the
// whole round lifecycle to the game engine; every read endpoint doubles as a
// progress driver.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"flipd/game"
)

const defaultListLimit = 50

// Engine is the lifecycle surface the HTTP layer drives.
type Engine interface {
	CreateRound(ctx context.Context, player, move string) (*game.Round, error)
	ProcessRound(ctx context.Context, id string) (*game.Round, error)
	ListRounds(ctx context.Context, limit int) ([]*game.Round, error)
	ListRoundsByPlayer(ctx context.Context, player string, limit int, pendingOnly bool) ([]*game.Round, error)
}

// Config carries the server dependencies.
type Config struct {
	Engine Engine
	Logger *slog.Logger
	// CreateRatePerMinute throttles round creation per client IP. Zero
	// disables the limiter.
	CreateRatePerMinute float64
	CreateBurst         int
	// TraceHandlers wraps the API routes with otelhttp spans.
	TraceHandlers bool
}

// Server is the HTTP front end.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	limiter *rateLimiter
	trace   bool

	router http.Handler
}

// New constructs the configured router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine: cfg.Engine,
		logger: logger,
		trace:  cfg.TraceHandlers,
	}
	if cfg.CreateRatePerMinute > 0 {
		srv.limiter = newRateLimiter(cfg.CreateRatePerMinute, cfg.CreateBurst)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		if s.limiter != nil {
			api.With(s.limiter.middleware).Post("/rounds", s.wrap("create_round", s.createRound))
		} else {
			api.Post("/rounds", s.wrap("create_round", s.createRound))
		}
		api.Get("/rounds", s.wrap("list_rounds", s.listRounds))
		api.Get("/rounds/{id}", s.wrap("get_round", s.getRound))
		api.Get("/players/{address}/rounds", s.wrap("player_rounds", s.playerRounds))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func (s *Server) wrap(name string, h http.HandlerFunc) http.HandlerFunc {
	if !s.trace {
		return h
	}
	wrapped := otelhttp.NewHandler(h, name)
	return wrapped.ServeHTTP
}

func (s *Server) createRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
		Move   string `json:"move"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	round, err := s.engine.CreateRound(r.Context(), req.Player, req.Move)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, round)
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	round, err := s.engine.ProcessRound(r.Context(), id)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	if round == nil {
		s.writeError(w, http.StatusNotFound, "round not found")
		return
	}
	s.writeJSON(w, http.StatusOK, round)
}

func (s *Server) listRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.engine.ListRounds(r.Context(), parseLimit(r))
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func (s *Server) playerRounds(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	pendingOnly := r.URL.Query().Get("pending") == "true"
	rounds, err := s.engine.ListRoundsByPlayer(r.Context(), address, parseLimit(r), pendingOnly)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 200 {
		return defaultListLimit
	}
	return limit
}

func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *game.ValidationError
		conflict   *game.ConflictError
		preflight  *game.PreflightError
	)
	switch {
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":   conflict.Error(),
			"roundId": conflict.ExistingID,
		})
	case errors.As(err, &preflight):
		s.writeError(w, http.StatusUnprocessableEntity, preflight.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	return httpServer.ListenAndServe()
}
