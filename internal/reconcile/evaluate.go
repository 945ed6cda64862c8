package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyluth/rubricwatch/internal/evidence"
	"github.com/dyluth/rubricwatch/internal/judge"
	"github.com/dyluth/rubricwatch/internal/metrics"
	"github.com/dyluth/rubricwatch/internal/progress"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// EvaluateRequest is one transcript chunk for one group.
type EvaluateRequest struct {
	SessionID   string
	GroupNumber int
	Transcript  string
	Scenario    string
	Strictness  judge.Strictness
}

// Validate checks the request identifies a group.
func (r *EvaluateRequest) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if r.GroupNumber < 0 {
		return fmt.Errorf("invalid group number: must be >= 0, got %d", r.GroupNumber)
	}
	return nil
}

// RoundResult describes what one evaluation round did.
type RoundResult struct {
	// Skipped is true when another round for the same group was in flight.
	Skipped bool

	// Snapshot is the broadcast snapshot, nil if the round was skipped or the
	// session has no criteria.
	Snapshot *checklist.Snapshot

	// Changes lists the entries that transitioned this round.
	Changes []checklist.ProgressChange

	// Resolution is the resolver's view of the judge output.
	Resolution *evidence.Resolution
}

// groupState is everything the store knows about one group.
type groupState struct {
	criteria []checklist.Criterion
	progress map[string]*checklist.ProgressEntry
	scenario string
	gate     checklist.Gate
}

// load reads criteria, progress, scenario and gate concurrently.
func (e *Engine) load(ctx context.Context, key GroupKey) (*groupState, error) {
	st := &groupState{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		st.criteria, err = e.store.GetCriteria(gctx, key.SessionID)
		return err
	})
	g.Go(func() error {
		var err error
		st.progress, err = e.store.GetProgress(gctx, key.SessionID, key.GroupNumber)
		return err
	})
	g.Go(func() error {
		var err error
		st.scenario, err = e.store.GetScenario(gctx, key.SessionID)
		return err
	})
	g.Go(func() error {
		var err error
		st.gate, err = e.store.GetGate(gctx, key.SessionID, key.GroupNumber)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	if st.progress == nil {
		st.progress = make(map[string]*checklist.ProgressEntry)
	}
	return st, nil
}

// Evaluate runs one reconciliation round for a transcript chunk.
//
// A round already in flight for the same group causes this one to be skipped
// (Skipped is set, no error). Judge failures count as "no matches" and are
// never returned. A failed progress write still caches and broadcasts the
// computed snapshot, then returns an error wrapping ErrStoreWrite.
func (e *Engine) Evaluate(ctx context.Context, req EvaluateRequest) (*RoundResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	key := GroupKey{SessionID: req.SessionID, GroupNumber: req.GroupNumber}
	if !e.inflight.TryAcquire(key) {
		e.metrics.RecordRound(ctx, metrics.OutcomeSkipped, 0)
		e.logEvent("round_skipped", map[string]interface{}{
			"session_id":   key.SessionID,
			"group_number": key.GroupNumber,
			"reason":       "in_flight",
		})
		return &RoundResult{Skipped: true}, nil
	}
	defer e.inflight.Release(key)

	started := time.Now()

	state, err := e.load(ctx, key)
	if err != nil {
		e.metrics.RecordRound(ctx, metrics.OutcomeError, time.Since(started).Seconds())
		log.Printf("[Engine] Failed to load %s: %v", key, err)
		return nil, err
	}

	if len(state.criteria) == 0 {
		e.metrics.RecordRound(ctx, metrics.OutcomeNoCriteria, time.Since(started).Seconds())
		e.logEvent("round_skipped", map[string]interface{}{
			"session_id":   key.SessionID,
			"group_number": key.GroupNumber,
			"reason":       "no_criteria",
		})
		return &RoundResult{}, nil
	}

	strictness := req.Strictness
	if strictness == "" {
		strictness = e.defaultStrictness
	}

	raw := e.propose(ctx, key, judge.Request{
		Transcript: req.Transcript,
		Scenario:   firstNonEmpty(req.Scenario, state.scenario),
		Strictness: strictness,
		Criteria:   state.criteria,
	})

	resolution := e.resolver.Resolve(raw, state.criteria, state.progress)
	e.metrics.RecordAttribution(ctx, "dropped", resolution.Dropped)
	e.metrics.RecordAttribution(ctx, "demoted", resolution.Demoted)
	e.metrics.RecordAttribution(ctx, "rerouted", resolution.Rerouted)

	now := e.now()
	var changes []checklist.ProgressChange
	merged, writeErr := e.store.UpdateProgress(ctx, key.SessionID, key.GroupNumber,
		func(current map[string]*checklist.ProgressEntry) (map[string]*checklist.ProgressEntry, error) {
			var dirty map[string]*checklist.ProgressEntry
			dirty, changes = applyRound(key, resolution.Matches, current, now)
			return dirty, nil
		})

	if writeErr != nil {
		writeErr = fmt.Errorf("%w: %w", ErrStoreWrite, writeErr)
		e.logWarning("progress_write_failed", map[string]interface{}{
			"session_id":   key.SessionID,
			"group_number": key.GroupNumber,
			"error":        writeErr.Error(),
		})

		// Broadcast what the round would have written so viewers are not starved.
		merged = cloneProgress(state.progress)
		var dirty map[string]*checklist.ProgressEntry
		dirty, changes = applyRound(key, resolution.Matches, merged, now)
		for id, entry := range dirty {
			merged[id] = entry
		}
	}

	snapshot := &checklist.Snapshot{
		GroupNumber: key.GroupNumber,
		Criteria:    buildRows(state.criteria, merged),
		Scenario:    firstNonEmpty(state.scenario, req.Scenario),
		IsReleased:  state.gate.Released,
		Timestamp:   now.UnixMilli(),
	}
	e.broadcast(ctx, key, snapshot)

	if len(changes) > 0 && writeErr == nil {
		event := &checklist.ChangeEvent{
			SessionID:   key.SessionID,
			GroupNumber: key.GroupNumber,
			Changes:     changes,
			TimestampMs: now.UnixMilli(),
		}
		if err := e.bus.PublishChanges(ctx, event); err != nil {
			log.Printf("[Engine] Failed to publish change event for %s: %v", key, err)
		}
		for _, c := range changes {
			e.metrics.RecordTransition(ctx, string(c.To))
		}
	}

	outcome := metrics.OutcomeComplete
	if writeErr != nil {
		outcome = metrics.OutcomeWriteFailed
	}
	elapsed := time.Since(started)
	e.metrics.RecordRound(ctx, outcome, elapsed.Seconds())
	e.logEvent("round_complete", map[string]interface{}{
		"session_id":   key.SessionID,
		"group_number": key.GroupNumber,
		"changes":      len(changes),
		"dropped":      resolution.Dropped,
		"demoted":      resolution.Demoted,
		"rerouted":     resolution.Rerouted,
		"persisted":    writeErr == nil,
		"duration_ms":  elapsed.Milliseconds(),
	})

	return &RoundResult{Snapshot: snapshot, Changes: changes, Resolution: resolution}, writeErr
}

// propose calls the judge. Any failure yields no matches.
func (e *Engine) propose(ctx context.Context, key GroupKey, req judge.Request) []evidence.RawMatch {
	started := time.Now()
	raw, err := e.judge.Propose(ctx, req)
	elapsed := time.Since(started).Seconds()

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, judge.ErrUnparsable) {
			outcome = metrics.OutcomeUnparsable
		}
		e.metrics.RecordJudge(ctx, outcome, elapsed)
		e.logEvent("judge_failed", map[string]interface{}{
			"session_id":   key.SessionID,
			"group_number": key.GroupNumber,
			"unparsable":   outcome == metrics.OutcomeUnparsable,
			"error":        err.Error(),
		})
		return nil
	}

	e.metrics.RecordJudge(ctx, metrics.OutcomeOK, elapsed)
	return raw
}

// applyRound merges a round's matches into current and returns the entries to
// write plus the transitions among them. Criteria without an entry get a
// fresh grey one; carried matches restate existing progress and are not merged.
// current is not modified.
func applyRound(key GroupKey, matches []evidence.Match, current map[string]*checklist.ProgressEntry, now time.Time) (map[string]*checklist.ProgressEntry, []checklist.ProgressChange) {
	dirty := make(map[string]*checklist.ProgressEntry)
	var changes []checklist.ProgressChange

	for _, m := range matches {
		pkey := progress.Key{SessionID: key.SessionID, GroupNumber: key.GroupNumber, CriterionID: m.CriterionID}

		existing := current[m.CriterionID]
		if existing == nil {
			existing = progress.NewEntry(pkey, now)
			dirty[m.CriterionID] = existing
		}
		if m.Source == evidence.SourceCarried {
			continue
		}

		next, changed := progress.Merge(pkey, existing, m.Judgment, now)
		if !changed {
			continue
		}
		dirty[m.CriterionID] = next
		changes = append(changes, checklist.ProgressChange{
			CriterionID: m.CriterionID,
			Index:       m.Index,
			From:        existing.Status,
			To:          next.Status,
			Quote:       next.Quote,
			TimestampMs: now.UnixMilli(),
		})
	}

	return dirty, changes
}

func cloneProgress(in map[string]*checklist.ProgressEntry) map[string]*checklist.ProgressEntry {
	out := make(map[string]*checklist.ProgressEntry, len(in))
	for id, entry := range in {
		out[id] = entry.Clone()
	}
	return out
}
