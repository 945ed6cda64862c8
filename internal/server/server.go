// Package server exposes the reconciliation engine over HTTP and streams
// broadcast snapshots to websocket viewers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dyluth/rubricwatch/internal/metrics"
	"github.com/dyluth/rubricwatch/internal/reconcile"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// Engine is the reconciliation surface the server exposes.
// *reconcile.Engine implements it.
type Engine interface {
	Evaluate(ctx context.Context, req reconcile.EvaluateRequest) (*reconcile.RoundResult, error)
	Release(ctx context.Context, sessionID string, group int, payload reconcile.OptimisticPayload) (*checklist.Snapshot, error)
	GetSnapshot(ctx context.Context, sessionID string, group int) (*checklist.Snapshot, error)
	ReplaceCriteria(ctx context.Context, sessionID string, inputs []reconcile.CriterionInput) ([]checklist.Criterion, error)
	TeardownSession(ctx context.Context, sessionID string) error
}

// Subscriber opens snapshot subscriptions for viewers. *checklist.Client implements it.
type Subscriber interface {
	SubscribeSession(ctx context.Context, sessionID string) (*checklist.SnapshotSubscription, error)
	SubscribeGroup(ctx context.Context, sessionID string, group int) (*checklist.SnapshotSubscription, error)
	Ping(ctx context.Context) error
}

const defaultEvaluationTimeout = 45 * time.Second

// Server is the HTTP surface of the engine.
type Server struct {
	engine            Engine
	subs              Subscriber
	metrics           *metrics.Metrics
	metricsHandler    http.Handler
	evaluationTimeout time.Duration
	addr              string

	httpServer *http.Server
	listener   net.Listener

	// rounds tracks fire-and-forget evaluations so shutdown can wait for them.
	// closing is set under mu before Wait, and Add only happens under mu
	// while closing is false.
	mu        sync.Mutex
	closing   bool
	rounds    sync.WaitGroup
	roundsCtx context.Context
	stopAll   context.CancelFunc
}

// ErrShuttingDown is returned for evaluation requests that arrive after
// shutdown has begun.
var ErrShuttingDown = errors.New("server is shutting down")

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address (default ":8080").
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithEvaluationTimeout bounds each fire-and-forget evaluation round.
func WithEvaluationTimeout(d time.Duration) Option {
	return func(s *Server) { s.evaluationTimeout = d }
}

// WithMetrics records viewer counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// New creates a server. Call Start to begin listening, or use Handler directly.
func New(engine Engine, subs Subscriber, opts ...Option) *Server {
	s := &Server{
		engine:            engine,
		subs:              subs,
		metrics:           metrics.Nop(),
		metricsHandler:    promhttp.Handler(),
		evaluationTimeout: defaultEvaluationTimeout,
		addr:              ":8080",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.roundsCtx, s.stopAll = context.WithCancel(context.Background())
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /sessions/{session}/criteria", s.handleReplaceCriteria)
	mux.HandleFunc("DELETE /sessions/{session}", s.handleTeardown)
	mux.HandleFunc("POST /sessions/{session}/groups/{group}/transcripts", s.handleEvaluate)
	mux.HandleFunc("POST /sessions/{session}/groups/{group}/release", s.handleRelease)
	mux.HandleFunc("GET /sessions/{session}/groups/{group}/checklist", s.handleGetSnapshot)
	mux.HandleFunc("GET /sessions/{session}/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metricsHandler)
	return mux
}

// Start binds the listen address and serves in the background.
// Bind errors are returned; serve errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[Server] HTTP server error: %v", err)
		}
	}()

	log.Printf("[Server] Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting requests, then waits for pending evaluation rounds.
// If ctx expires first, pending rounds are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if drainErr := s.drain(ctx); drainErr != nil && err == nil {
		err = drainErr
	}
	return err
}

// drain refuses new rounds and waits for in-flight evaluations, cancelling
// them when ctx is done.
func (s *Server) drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.rounds.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.stopAll()
		<-done
		return ctx.Err()
	}
}
