// Package reconcile turns noisy judge rounds into one consistent checklist
// per (session, group) and broadcasts it.
//
// The Engine owns three pieces of process-local state, all injected so tests
// can run independent engines side by side: the in-flight guard that keeps
// evaluation rounds for one group from overlapping, the snapshot cache that
// remembers the last broadcast per group, and the evidence resolver.
//
// Durable state lives behind the Store interface. Writes are merge-then-write:
// the store hands the freshest stored progress to a mutator that re-applies
// the monotonic merge law, so a concurrent release or evaluation can never
// move a criterion backwards.
package reconcile

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dyluth/rubricwatch/internal/evidence"
	"github.com/dyluth/rubricwatch/internal/judge"
	"github.com/dyluth/rubricwatch/internal/metrics"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// Store is the durable document store. checklist.Client implements it.
type Store interface {
	GetCriteria(ctx context.Context, sessionID string) ([]checklist.Criterion, error)
	SetCriteria(ctx context.Context, sessionID string, criteria []checklist.Criterion) error
	GetProgress(ctx context.Context, sessionID string, group int) (map[string]*checklist.ProgressEntry, error)
	UpdateProgress(ctx context.Context, sessionID string, group int, fn checklist.ProgressMutator) (map[string]*checklist.ProgressEntry, error)
	GetScenario(ctx context.Context, sessionID string) (string, error)
	SetScenarioIfAbsent(ctx context.Context, sessionID, scenario string) error
	GetGate(ctx context.Context, sessionID string, group int) (checklist.Gate, error)
	SetReleased(ctx context.Context, sessionID string, group int, at time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Broadcaster publishes snapshots and change events. checklist.Client implements it.
type Broadcaster interface {
	PublishSnapshot(ctx context.Context, sessionID string, snapshot *checklist.Snapshot) error
	PublishChanges(ctx context.Context, event *checklist.ChangeEvent) error
}

// Proposer is the judge collaborator. *judge.Judge and judge.Nop implement it.
type Proposer interface {
	Propose(ctx context.Context, req judge.Request) ([]evidence.RawMatch, error)
}

// Engine is the reconciliation engine. It is safe for concurrent use.
type Engine struct {
	store    Store
	bus      Broadcaster
	judge    Proposer
	resolver *evidence.Resolver
	inflight *InFlight
	cache    *SnapshotCache
	metrics  *metrics.Metrics
	resync   singleflight.Group

	instanceName      string
	defaultStrictness judge.Strictness
	now               func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver replaces the default evidence resolver.
func WithResolver(r *evidence.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInstanceName sets the instance reported in structured log events.
func WithInstanceName(name string) Option {
	return func(e *Engine) { e.instanceName = name }
}

// WithDefaultStrictness sets the strictness used when a request has none.
func WithDefaultStrictness(s judge.Strictness) Option {
	return func(e *Engine) { e.defaultStrictness = s }
}

// WithSnapshotCache shares a snapshot cache with the engine.
func WithSnapshotCache(c *SnapshotCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithInFlight shares an in-flight guard with the engine.
func WithInFlight(f *InFlight) Option {
	return func(e *Engine) { e.inflight = f }
}

// NewEngine creates a reconciliation engine.
func NewEngine(store Store, bus Broadcaster, proposer Proposer, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		bus:               bus,
		judge:             proposer,
		resolver:          evidence.NewResolver(),
		inflight:          NewInFlight(),
		cache:             NewSnapshotCache(),
		metrics:           metrics.Nop(),
		instanceName:      "default",
		defaultStrictness: judge.StrictnessModerate,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.judge == nil {
		e.judge = judge.Nop{}
	}
	return e
}

// Cache exposes the engine's snapshot cache.
func (e *Engine) Cache() *SnapshotCache {
	return e.cache
}

// broadcast caches the snapshot and publishes it to both audiences.
// Publish failures are logged and counted but never returned: viewers are
// fire-and-forget.
func (e *Engine) broadcast(ctx context.Context, key GroupKey, snapshot *checklist.Snapshot) {
	e.cache.Put(key, snapshot)

	err := e.bus.PublishSnapshot(ctx, key.SessionID, snapshot)
	e.metrics.RecordBroadcast(ctx, err)
	if err != nil {
		log.Printf("[Engine] Failed to broadcast snapshot for %s: %v", key, err)
	}
}

// logEvent logs a structured info event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	e.logEventLevel("info", eventType, data)
}

// logWarning logs a structured warning event in JSON format.
func (e *Engine) logWarning(eventType string, data map[string]interface{}) {
	e.logEventLevel("warning", eventType, data)
}

func (e *Engine) logEventLevel(level, eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = level
	data["component"] = "engine"
	data["event_type"] = eventType
	data["instance"] = e.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Engine] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
