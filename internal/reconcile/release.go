package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/rubricwatch/internal/metrics"
	"github.com/dyluth/rubricwatch/internal/progress"
	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// OptimisticPayload is the releasing client's own view of the checklist:
// whatever it last rendered, possibly ahead of the store.
type OptimisticPayload struct {
	Scenario string                        `json:"scenario"`
	Criteria []checklist.SnapshotCriterion `json:"criteria"`
}

// Release opens a group's release gate and broadcasts the best-effort union
// of three views: the durable store, the releasing client's payload and the
// last broadcast snapshot.
//
// The store is authoritative. Missing store criteria fall back to the
// payload's rows. Payload and cache rows then replace store rows that are
// still grey, or when they are green. If every source is empty the cached
// snapshot is used verbatim, and failing that an empty checklist is released
// and logged as a warning.
//
// Rows taken from the payload or the cache are written back to the store
// through the monotonic merge, so a later round cannot lose them.
//
// Releasing again is allowed and refreshes content; the gate keeps its first
// release time. Two releases over the same state return the same snapshot
// apart from Timestamp, which is the time of each call. Store failures are returned (wrapping ErrStoreRead or
// ErrStoreWrite) only after the snapshot has been cached and broadcast.
func (e *Engine) Release(ctx context.Context, sessionID string, group int, payload OptimisticPayload) (*checklist.Snapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID cannot be empty", ErrInvalidRequest)
	}
	if group < 0 {
		return nil, fmt.Errorf("%w: invalid group number %d", ErrInvalidRequest, group)
	}

	key := GroupKey{SessionID: sessionID, GroupNumber: group}
	var errs []error

	state, err := e.load(ctx, key)
	if err != nil {
		log.Printf("[Engine] Release of %s continuing without store state: %v", key, err)
		errs = append(errs, err)
		state = &groupState{progress: make(map[string]*checklist.ProgressEntry)}
	}

	source := "store"
	var rows []checklist.SnapshotCriterion
	if len(state.criteria) > 0 {
		rows = buildRows(state.criteria, state.progress)
	} else {
		rows = copyRows(payload.Criteria)
		source = "client"
	}

	fromClient := overlay(rows, payload.Criteria)

	cached := e.cache.Get(key)
	fromCache := 0
	cachedScenario := ""
	if cached != nil {
		fromCache = overlay(rows, cached.Criteria)
		cachedScenario = cached.Scenario
		if len(rows) == 0 {
			rows = copyRows(cached.Criteria)
			source = "cache"
		}
	}
	sortRows(rows)

	now := e.now()
	snapshot := &checklist.Snapshot{
		GroupNumber: group,
		Criteria:    rows,
		Scenario:    firstNonEmpty(state.scenario, payload.Scenario, cachedScenario),
		IsReleased:  true,
		Timestamp:   now.UnixMilli(),
	}

	if err := e.store.SetReleased(ctx, sessionID, group, now); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrStoreWrite, err))
	}
	if err := e.store.SetScenarioIfAbsent(ctx, sessionID, snapshot.Scenario); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrStoreWrite, err))
	}
	if len(state.criteria) > 0 && fromClient+fromCache > 0 {
		if err := e.persistRows(ctx, key, state.criteria, rows, now); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrStoreWrite, err))
		}
	}

	e.broadcast(ctx, key, snapshot)

	data := map[string]interface{}{
		"session_id":   sessionID,
		"group_number": group,
		"source":       source,
		"from_client":  fromClient,
		"from_cache":   fromCache,
		"criteria":     len(rows),
		"persisted":    len(errs) == 0,
	}
	switch {
	case len(rows) == 0:
		e.metrics.RecordRelease(ctx, metrics.OutcomeEmpty)
		e.logWarning("release_empty", data)
	case len(errs) > 0:
		e.metrics.RecordRelease(ctx, metrics.OutcomeWriteFailed)
		e.logEvent("release_complete", data)
	default:
		e.metrics.RecordRelease(ctx, metrics.OutcomeComplete)
		e.logEvent("release_complete", data)
	}

	return snapshot.Clone(), errors.Join(errs...)
}

// persistRows merges released rows into the group's stored progress. Rows for
// unknown criteria, grey rows and rows without a quote are skipped; the merge
// never downgrades an entry.
func (e *Engine) persistRows(ctx context.Context, key GroupKey, criteria []checklist.Criterion, rows []checklist.SnapshotCriterion, now time.Time) error {
	known := make(map[string]struct{}, len(criteria))
	for _, c := range criteria {
		known[c.ID] = struct{}{}
	}

	_, err := e.store.UpdateProgress(ctx, key.SessionID, key.GroupNumber,
		func(current map[string]*checklist.ProgressEntry) (map[string]*checklist.ProgressEntry, error) {
			dirty := make(map[string]*checklist.ProgressEntry)
			for _, row := range rows {
				if _, ok := known[row.DBID]; !ok || row.Status == checklist.StatusGrey || row.Quote == nil {
					continue
				}
				j, err := checklist.NewJudgment(row.Status, *row.Quote)
				if err != nil {
					continue
				}
				pkey := progress.Key{SessionID: key.SessionID, GroupNumber: key.GroupNumber, CriterionID: row.DBID}
				if next, changed := progress.Merge(pkey, current[row.DBID], j, now); changed {
					dirty[row.DBID] = next
				}
			}
			return dirty, nil
		})
	return err
}
