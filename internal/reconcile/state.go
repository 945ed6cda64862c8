package reconcile

import (
	"fmt"
	"sync"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// GroupKey identifies one group within one session.
type GroupKey struct {
	SessionID   string
	GroupNumber int
}

// String implements fmt.Stringer.
func (k GroupKey) String() string {
	return fmt.Sprintf("%s-%d", k.SessionID, k.GroupNumber)
}

// InFlight is the per-group evaluation guard. At most one holder per key;
// a failed acquire means the caller should drop its round, not wait.
type InFlight struct {
	mu   sync.Mutex
	keys map[GroupKey]struct{}
}

// NewInFlight creates an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{keys: make(map[GroupKey]struct{})}
}

// TryAcquire marks key as in flight. Returns false if it already was.
func (f *InFlight) TryAcquire(key GroupKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return false
	}
	f.keys[key] = struct{}{}
	return true
}

// Release clears key. Releasing a key that is not held is a no-op.
func (f *InFlight) Release(key GroupKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

// Len returns the number of keys in flight.
func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

// SnapshotCache remembers the last snapshot broadcast per group.
// It is best-effort: losing it only means falling back to the store.
// Snapshots are copied on the way in and out so callers never share state.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[GroupKey]*checklist.Snapshot
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snapshots: make(map[GroupKey]*checklist.Snapshot)}
}

// Get returns a copy of the cached snapshot for key, or nil.
func (c *SnapshotCache) Get(key GroupKey) *checklist.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[key].Clone()
}

// Put stores a copy of snapshot for key.
func (c *SnapshotCache) Put(key GroupKey, snapshot *checklist.Snapshot) {
	if snapshot == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[key] = snapshot.Clone()
}

// ClearSession drops every cached snapshot of a session and returns how many were removed.
func (c *SnapshotCache) ClearSession(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.snapshots {
		if key.SessionID == sessionID {
			delete(c.snapshots, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached snapshots.
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
