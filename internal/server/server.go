// Package server exposes the marketplace and escrow views over HTTP and
// accepts signed transaction submissions.
package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trustwork/internal/config"
	"trustwork/internal/hmacauth"
	"trustwork/internal/journal"
	"trustwork/internal/query"
	"trustwork/internal/stacks"
	"trustwork/internal/txbuild"
)

// Chain is the node surface the server reads outside the orchestrator.
type Chain interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	Activity(ctx context.Context, address string, contract stacks.Contract) ([]stacks.Activity, error)
	Transaction(ctx context.Context, txID string) (stacks.TxResult, error)
}

// Deps are the collaborators NewServer wires together.
type Deps struct {
	Queries *query.Orchestrator
	Chain   Chain
	Planner txbuild.Planner
	Signer  txbuild.Signer
	Journal journal.Store
	Metrics *Metrics
}

type Server struct {
	cfg        *config.AppConfig
	queries    *query.Orchestrator
	chain      Chain
	planner    txbuild.Planner
	signer     txbuild.Signer
	journal    journal.Store
	hmac       *hmacauth.Verifier
	metrics    *Metrics
	httpServer *http.Server
	dbHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		cfg:     cfg,
		queries: deps.Queries,
		chain:   deps.Chain,
		planner: deps.Planner,
		signer:  deps.Signer,
		journal: deps.Journal,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: metrics,
	}
	if checker, ok := deps.Journal.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler is the full route table behind the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/bids/{freelancer}", s.handleBid)
	mux.HandleFunc("GET /api/v1/bids", s.handleBids)
	mux.HandleFunc("GET /api/v1/escrows", s.handleEscrows)
	mux.HandleFunc("GET /api/v1/escrows/{id}", s.handleEscrow)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/chain/height", s.handleHeight)
	mux.HandleFunc("GET /api/v1/chain/transactions/{txid}", s.handleTransaction)
	mux.HandleFunc("GET /api/v1/accounts/{address}/balance", s.handleBalance)
	mux.HandleFunc("GET /api/v1/accounts/{address}/activity", s.handleActivity)
	mux.HandleFunc("GET /api/v1/accounts/{address}/submissions", s.handleSubmissions)
	mux.Handle("POST /api/v1/transactions", s.hmac.Middleware(http.HandlerFunc(s.handleSubmit)))
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	return requestMiddleware(mux)
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healthy := true

	node := struct {
		Connected bool    `json:"connected"`
		Height    uint64  `json:"height,omitempty"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}
	start := time.Now()
	nodeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if h, err := s.queries.Height(nodeCtx); err != nil {
		node.Error = err.Error()
		healthy = false
	} else {
		node.Connected = true
		node.Height = h
		node.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	db := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}
	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			db.Connected = false
			db.Error = err.Error()
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":   status,
		"node":     node,
		"database": db,
		"signer":   s.signer != nil,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestMiddleware assigns a request id, attaches a request-scoped logger
// to the context and logs each request once it completes.
func requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)

		logger := log.With().Str("request_id", id).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		level := zerolog.InfoLevel
		if rec.status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		logger.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
