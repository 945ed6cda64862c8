package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-transaction retries in SetCriteria and
// UpdateProgress.
const maxTxRetries = 5

// Client provides instance-scoped Redis operations for checklists.
// Redis acts both as the durable document store (criteria, progress, release
// gates) and as the broadcast channel (snapshots, change events).
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string

	// beforeReset runs inside SetCriteria between reading the group set and
	// queueing the reset. Tests only.
	beforeReset func()
}

// NewClient creates a new checklist client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: rubricwatch instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetCriteria replaces a session's criteria and deletes all progress recorded
// against the previous list, for every group. Criteria and progress share a
// lifecycle: recreating one invalidates the other.
//
// Release flags and scenario text are left untouched.
func (c *Client) SetCriteria(ctx context.Context, sessionID string, criteria []Criterion) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	seenIDs := make(map[string]struct{}, len(criteria))
	seenIndexes := make(map[int]struct{}, len(criteria))
	for i := range criteria {
		if err := criteria[i].Validate(); err != nil {
			return fmt.Errorf("invalid criterion at position %d: %w", i, err)
		}
		if _, dup := seenIDs[criteria[i].ID]; dup {
			return fmt.Errorf("duplicate criterion ID %s", criteria[i].ID)
		}
		if _, dup := seenIndexes[criteria[i].Index]; dup {
			return fmt.Errorf("duplicate criterion index %d", criteria[i].Index)
		}
		seenIDs[criteria[i].ID] = struct{}{}
		seenIndexes[criteria[i].Index] = struct{}{}
	}

	hash, err := CriteriaToHash(criteria)
	if err != nil {
		return fmt.Errorf("failed to serialize criteria: %w", err)
	}

	criteriaKey := CriteriaKey(c.instanceName, sessionID)
	groupsKey := GroupsKey(c.instanceName, sessionID)

	// The group set is read under WATCH so a group that gains progress before
	// EXEC aborts the reset instead of surviving it.
	txf := func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, groupsKey).Result()
		if err != nil {
			return err
		}
		groups, err := parseGroups(members)
		if err != nil {
			return err
		}
		if c.beforeReset != nil {
			c.beforeReset()
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, criteriaKey)
			if len(hash) > 0 {
				pipe.HSet(ctx, criteriaKey, hash)
			}
			for _, group := range groups {
				pipe.Del(ctx, ProgressKey(c.instanceName, sessionID, group))
			}
			pipe.Del(ctx, groupsKey)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, groupsKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to write criteria to Redis: %w", err)
	}

	return fmt.Errorf("failed to write criteria to Redis: %w", redis.TxFailedErr)
}

// GetCriteria retrieves a session's criteria ordered by index.
// Returns an empty slice (not an error) if the session has no criteria yet.
func (c *Client) GetCriteria(ctx context.Context, sessionID string) ([]Criterion, error) {
	hashData, err := c.rdb.HGetAll(ctx, CriteriaKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read criteria from Redis: %w", err)
	}

	criteria, err := HashToCriteria(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize criteria: %w", err)
	}

	return criteria, nil
}

// GetProgress retrieves a group's progress entries keyed by criterion ID.
// Returns an empty map if the group has no progress yet.
func (c *Client) GetProgress(ctx context.Context, sessionID string, group int) (map[string]*ProgressEntry, error) {
	hashData, err := c.rdb.HGetAll(ctx, ProgressKey(c.instanceName, sessionID, group)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read progress from Redis: %w", err)
	}

	entries, err := HashToProgress(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize progress: %w", err)
	}

	return entries, nil
}

// ProgressMutator receives the freshest stored progress for a group and
// returns the entries that must be written. Returning no entries skips the write.
// It may be invoked more than once if a concurrent writer touches the group.
type ProgressMutator func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error)

// UpdateProgress performs a merge-then-write of a group's progress.
// The progress hash is WATCHed, read, handed to fn, and the returned entries are
// written in a single MULTI/EXEC batch. If another writer changes the hash in
// between, the transaction is retried with fresh state.
//
// Returns the resulting full progress map.
func (c *Client) UpdateProgress(ctx context.Context, sessionID string, group int, fn ProgressMutator) (map[string]*ProgressEntry, error) {
	key := ProgressKey(c.instanceName, sessionID, group)
	groupsKey := GroupsKey(c.instanceName, sessionID)

	var result map[string]*ProgressEntry
	txf := func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read progress from Redis: %w", err)
		}

		current, err := HashToProgress(hashData)
		if err != nil {
			return fmt.Errorf("failed to deserialize progress: %w", err)
		}

		dirty, err := fn(current)
		if err != nil {
			return err
		}

		result = current
		for id, entry := range dirty {
			result[id] = entry
		}

		if len(dirty) == 0 {
			return nil
		}

		for id, entry := range dirty {
			if err := entry.Validate(); err != nil {
				return fmt.Errorf("invalid progress for %s: %w", id, err)
			}
		}

		hash, err := ProgressToHash(dirty)
		if err != nil {
			return fmt.Errorf("failed to serialize progress: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			pipe.SAdd(ctx, groupsKey, group)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return result, fmt.Errorf("failed to update progress in Redis: %w", err)
	}

	return result, fmt.Errorf("failed to update progress in Redis: %w", redis.TxFailedErr)
}

// ListGroups returns every group number that has stored progress for the session.
func (c *Client) ListGroups(ctx context.Context, sessionID string) ([]int, error) {
	members, err := c.rdb.SMembers(ctx, GroupsKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read groups from Redis: %w", err)
	}

	return parseGroups(members)
}

func parseGroups(members []string) ([]int, error) {
	groups := make([]int, 0, len(members))
	for _, m := range members {
		group, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("invalid group member %q: %w", m, err)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// GetScenario returns the session's scenario text, or "" if none was stored.
func (c *Client) GetScenario(ctx context.Context, sessionID string) (string, error) {
	scenario, err := c.rdb.HGet(ctx, SessionMetaKey(c.instanceName, sessionID), ScenarioField).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read scenario from Redis: %w", err)
	}
	return scenario, nil
}

// SetScenarioIfAbsent stores the scenario text unless one is already stored.
// Empty scenarios are ignored.
func (c *Client) SetScenarioIfAbsent(ctx context.Context, sessionID, scenario string) error {
	if scenario == "" {
		return nil
	}
	if err := c.rdb.HSetNX(ctx, SessionMetaKey(c.instanceName, sessionID), ScenarioField, scenario).Err(); err != nil {
		return fmt.Errorf("failed to write scenario to Redis: %w", err)
	}
	return nil
}

// GetGate returns a group's release gate.
func (c *Client) GetGate(ctx context.Context, sessionID string, group int) (Gate, error) {
	value, err := c.rdb.HGet(ctx, SessionMetaKey(c.instanceName, sessionID), ReleaseField(group)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Gate{}, nil
		}
		return Gate{}, fmt.Errorf("failed to read release gate from Redis: %w", err)
	}
	return ParseGate(value)
}

// SetReleased opens a group's release gate. The first release time is kept;
// releasing again is a no-op on the stored flag.
func (c *Client) SetReleased(ctx context.Context, sessionID string, group int, at time.Time) error {
	key := SessionMetaKey(c.instanceName, sessionID)
	if err := c.rdb.HSetNX(ctx, key, ReleaseField(group), at.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to write release gate to Redis: %w", err)
	}
	return nil
}

// DeleteSession removes every key belonging to the session: criteria,
// progress for all groups, release gates and scenario.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	groups, err := c.ListGroups(ctx, sessionID)
	if err != nil {
		return err
	}

	keys := []string{
		CriteriaKey(c.instanceName, sessionID),
		SessionMetaKey(c.instanceName, sessionID),
		GroupsKey(c.instanceName, sessionID),
	}
	for _, group := range groups {
		keys = append(keys, ProgressKey(c.instanceName, sessionID, group))
	}

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// PublishSnapshot broadcasts a snapshot to both audiences: the whole-session
// channel and the group-room channel. Each audience receives snapshots in
// send order; no ordering holds between the two.
func (c *Client) PublishSnapshot(ctx context.Context, sessionID string, snapshot *Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var errs []error
	for _, channel := range []string{
		SessionChannel(c.instanceName, sessionID),
		GroupChannel(c.instanceName, sessionID, snapshot.GroupNumber),
	} {
		if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish snapshot to %s: %w", channel, err))
		}
	}

	return errors.Join(errs...)
}

// PublishChanges broadcasts a round's change event to the session's progress_events channel.
func (c *Client) PublishChanges(ctx context.Context, event *ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	channel := ProgressEventsChannel(c.instanceName, event.SessionID)
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// SnapshotSubscription represents an active Pub/Sub subscription to snapshots.
// Caller must call Close() when done to clean up resources.
type SnapshotSubscription struct {
	events <-chan *Snapshot
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of snapshots.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *SnapshotSubscription) Events() <-chan *Snapshot {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - messages are skipped.
func (s *SnapshotSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *SnapshotSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// ChangeSubscription represents an active Pub/Sub subscription to change events.
type ChangeSubscription struct {
	events <-chan *ChangeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of change events.
func (s *ChangeSubscription) Events() <-chan *ChangeEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
func (s *ChangeSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
func (s *ChangeSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeSession subscribes to every snapshot broadcast for a session.
func (c *Client) SubscribeSession(ctx context.Context, sessionID string) (*SnapshotSubscription, error) {
	return c.subscribeSnapshots(ctx, SessionChannel(c.instanceName, sessionID))
}

// SubscribeGroup subscribes to the snapshots broadcast to one group room.
func (c *Client) SubscribeGroup(ctx context.Context, sessionID string, group int) (*SnapshotSubscription, error) {
	return c.subscribeSnapshots(ctx, GroupChannel(c.instanceName, sessionID, group))
}

// SubscribeChanges subscribes to a session's per-round change events.
func (c *Client) SubscribeChanges(ctx context.Context, sessionID string) (*ChangeSubscription, error) {
	events, errs, cancel, err := subscribe[ChangeEvent](ctx, c.rdb, ProgressEventsChannel(c.instanceName, sessionID))
	if err != nil {
		return nil, err
	}
	return &ChangeSubscription{events: events, errors: errs, cancel: cancel}, nil
}

func (c *Client) subscribeSnapshots(ctx context.Context, channel string) (*SnapshotSubscription, error) {
	events, errs, cancel, err := subscribe[Snapshot](ctx, c.rdb, channel)
	if err != nil {
		return nil, err
	}
	return &SnapshotSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// subscribe opens a Pub/Sub subscription and decodes each message as a T.
// The subscription is confirmed before returning so no message published after
// the call returns is missed.
//
// Events are delivered on a buffered channel (size 10). If the subscriber is
// too slow, events may be dropped by Redis Pub/Sub (at-most-once delivery).
func subscribe[T any](ctx context.Context, rdb *redis.Client, channel string) (<-chan *T, <-chan error, func(), error) {
	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	eventsChan := make(chan *T, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event T
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event from %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return eventsChan, errorsChan, cancelFunc, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
