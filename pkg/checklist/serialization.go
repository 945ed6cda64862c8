package checklist

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Criteria and progress are stored as one hash per session (or group) with one
// field per criterion ID. Each field value is a JSON document, which keeps a
// whole round's progress writable in a single HSET while preserving per-criterion
// addressability.

// CriteriaToHash converts criteria to hash fields keyed by criterion ID.
func CriteriaToHash(criteria []Criterion) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(criteria))
	for i := range criteria {
		data, err := json.Marshal(&criteria[i])
		if err != nil {
			return nil, fmt.Errorf("failed to marshal criterion %s: %w", criteria[i].ID, err)
		}
		hash[criteria[i].ID] = string(data)
	}
	return hash, nil
}

// HashToCriteria decodes a criteria hash and returns the criteria ordered by index.
func HashToCriteria(hash map[string]string) ([]Criterion, error) {
	criteria := make([]Criterion, 0, len(hash))
	for id, raw := range hash {
		var c Criterion
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal criterion %s: %w", id, err)
		}
		if c.ID == "" {
			c.ID = id
		}
		if c.Weight == 0 {
			c.Weight = 1
		}
		criteria = append(criteria, c)
	}

	sort.SliceStable(criteria, func(i, j int) bool {
		if criteria[i].Index != criteria[j].Index {
			return criteria[i].Index < criteria[j].Index
		}
		return criteria[i].ID < criteria[j].ID
	})

	return criteria, nil
}

// ProgressToHash converts progress entries to hash fields keyed by criterion ID.
func ProgressToHash(entries map[string]*ProgressEntry) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(entries))
	for id, entry := range entries {
		e := *entry
		if e.History == nil {
			e.History = []HistoryEntry{}
		}
		data, err := json.Marshal(&e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal progress for %s: %w", id, err)
		}
		hash[id] = string(data)
	}
	return hash, nil
}

// HashToProgress decodes a progress hash into entries keyed by criterion ID.
func HashToProgress(hash map[string]string) (map[string]*ProgressEntry, error) {
	entries := make(map[string]*ProgressEntry, len(hash))
	for id, raw := range hash {
		entry := &ProgressEntry{}
		if err := json.Unmarshal([]byte(raw), entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress for %s: %w", id, err)
		}
		if entry.CriterionID == "" {
			entry.CriterionID = id
		}
		// Ensure we have an empty slice instead of nil for consistency
		if entry.History == nil {
			entry.History = []HistoryEntry{}
		}
		entries[id] = entry
	}
	return entries, nil
}

// ParseGate converts a stored release field value (unix ms) to a Gate.
// An empty value means the group has not been released.
func ParseGate(value string) (Gate, error) {
	if value == "" {
		return Gate{}, nil
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Gate{}, fmt.Errorf("invalid release timestamp %q: %w", value, err)
	}
	return Gate{Released: true, ReleasedAtMs: ms}, nil
}
