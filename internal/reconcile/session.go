package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// resyncTimeout bounds a shared resync load independently of its callers.
const resyncTimeout = 10 * time.Second

// GetSnapshot returns the current checklist for a group without writing or
// broadcasting anything. It is meant for reconnect resync.
//
// Store state is overlaid with the last broadcast snapshot by the same
// preference rule as Release. When the store has no criteria, or cannot be
// read, the cached snapshot is returned instead. Concurrent calls for the same
// group share one store read; a caller whose ctx ends stops waiting without
// cancelling the read for the others.
func (e *Engine) GetSnapshot(ctx context.Context, sessionID string, group int) (*checklist.Snapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID cannot be empty", ErrInvalidRequest)
	}
	if group < 0 {
		return nil, fmt.Errorf("%w: invalid group number %d", ErrInvalidRequest, group)
	}

	key := GroupKey{SessionID: sessionID, GroupNumber: group}
	ch := e.resync.DoChan(key.String(), func() (interface{}, error) {
		// Outlives any single waiting caller.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resyncTimeout)
		defer cancel()
		return e.resyncSnapshot(loadCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*checklist.Snapshot).Clone(), nil
	}
}

func (e *Engine) resyncSnapshot(ctx context.Context, key GroupKey) (*checklist.Snapshot, error) {
	cached := e.cache.Get(key)

	state, err := e.load(ctx, key)
	if err != nil {
		if cached != nil {
			log.Printf("[Engine] Resync of %s served from cache: %v", key, err)
			return cached, nil
		}
		return nil, err
	}

	if len(state.criteria) == 0 {
		if cached != nil {
			return cached, nil
		}
		return &checklist.Snapshot{
			GroupNumber: key.GroupNumber,
			Criteria:    []checklist.SnapshotCriterion{},
			Scenario:    state.scenario,
			IsReleased:  state.gate.Released,
			Timestamp:   e.now().UnixMilli(),
		}, nil
	}

	rows := buildRows(state.criteria, state.progress)
	released := state.gate.Released
	scenario := state.scenario
	if cached != nil {
		overlay(rows, cached.Criteria)
		released = released || cached.IsReleased
		scenario = firstNonEmpty(scenario, cached.Scenario)
	}
	sortRows(rows)

	return &checklist.Snapshot{
		GroupNumber: key.GroupNumber,
		Criteria:    rows,
		Scenario:    scenario,
		IsReleased:  released,
		Timestamp:   e.now().UnixMilli(),
	}, nil
}

// CriterionInput is one criterion as supplied by a facilitator.
// ID is optional; a UUID is assigned when it is empty.
type CriterionInput struct {
	ID          string  `json:"id,omitempty"`
	Description string  `json:"description"`
	Rubric      string  `json:"rubric"`
	Weight      float64 `json:"weight,omitempty"`
}

// ReplaceCriteria sets a session's criteria in the given order, invalidating
// all progress recorded against the previous list for every group and
// dropping the session's cached snapshots. Release gates and scenario are kept.
func (e *Engine) ReplaceCriteria(ctx context.Context, sessionID string, inputs []CriterionInput) ([]checklist.Criterion, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session ID cannot be empty", ErrInvalidRequest)
	}

	criteria := make([]checklist.Criterion, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i, in := range inputs {
		c := checklist.Criterion{
			ID:          in.ID,
			Index:       i,
			Description: in.Description,
			Rubric:      in.Rubric,
			Weight:      in.Weight,
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.Weight == 0 {
			c.Weight = 1
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: criterion %d: %w", ErrInvalidRequest, i, err)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate criterion ID %s", ErrInvalidRequest, c.ID)
		}
		seen[c.ID] = struct{}{}
		criteria[i] = c
	}

	if err := e.store.SetCriteria(ctx, sessionID, criteria); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	cleared := e.cache.ClearSession(sessionID)
	e.logEvent("criteria_replaced", map[string]interface{}{
		"session_id":    sessionID,
		"criteria":      len(criteria),
		"cache_cleared": cleared,
	})

	return criteria, nil
}

// TeardownSession deletes everything stored for a session, release gates
// included, and drops its cached snapshots.
func (e *Engine) TeardownSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", ErrInvalidRequest)
	}

	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	cleared := e.cache.ClearSession(sessionID)
	e.logEvent("session_torn_down", map[string]interface{}{
		"session_id":    sessionID,
		"cache_cleared": cleared,
	})
	return nil
}
