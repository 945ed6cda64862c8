package checklist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testCriteria(n int) []Criterion {
	criteria := make([]Criterion, n)
	for i := range criteria {
		criteria[i] = Criterion{
			ID:          uuid.New().String(),
			Index:       i,
			Description: "criterion description",
			Rubric:      "criterion rubric",
			Weight:      1,
		}
	}
	return criteria
}

func quote(s string) *string { return &s }

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSetAndGetCriteria(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round-trips criteria in index order", func(t *testing.T) {
		criteria := testCriteria(4)
		// Store in reverse to prove ordering comes from Index
		reversed := []Criterion{criteria[3], criteria[2], criteria[1], criteria[0]}
		require.NoError(t, client.SetCriteria(ctx, "s1", reversed))

		got, err := client.GetCriteria(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, criteria, got)
	})

	t.Run("returns empty slice for unknown session", func(t *testing.T) {
		got, err := client.GetCriteria(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("rejects invalid criterion", func(t *testing.T) {
		criteria := testCriteria(1)
		criteria[0].ID = "not-a-uuid"
		err := client.SetCriteria(ctx, "s2", criteria)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid criterion")
	})

	t.Run("rejects duplicate index", func(t *testing.T) {
		criteria := testCriteria(2)
		criteria[1].Index = 0
		err := client.SetCriteria(ctx, "s2", criteria)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate criterion index")
	})
}

func TestSetCriteriaDeletesProgress(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	criteria := testCriteria(2)
	require.NoError(t, client.SetCriteria(ctx, "s1", criteria))

	for _, group := range []int{1, 2} {
		_, err := client.UpdateProgress(ctx, "s1", group, func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
			return map[string]*ProgressEntry{
				criteria[0].ID: {
					SessionID:   "s1",
					GroupNumber: group,
					CriterionID: criteria[0].ID,
					Status:      StatusRed,
					Quote:       quote("something"),
				},
			}, nil
		})
		require.NoError(t, err)
	}
	assert.True(t, mr.Exists(ProgressKey("test-instance", "s1", 1)))
	assert.True(t, mr.Exists(ProgressKey("test-instance", "s1", 2)))

	require.NoError(t, client.SetCriteria(ctx, "s1", testCriteria(3)))

	assert.False(t, mr.Exists(ProgressKey("test-instance", "s1", 1)))
	assert.False(t, mr.Exists(ProgressKey("test-instance", "s1", 2)))
	groups, err := client.ListGroups(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSetCriteriaDeletesGroupAddedDuringReset(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	other, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })

	criteria := testCriteria(2)
	require.NoError(t, client.SetCriteria(ctx, "s1", criteria))

	calls := 0
	client.beforeReset = func() {
		calls++
		if calls > 1 {
			return
		}
		_, err := other.UpdateProgress(ctx, "s1", 7, func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
			return map[string]*ProgressEntry{
				criteria[0].ID: {
					SessionID:   "s1",
					GroupNumber: 7,
					CriterionID: criteria[0].ID,
					Status:      StatusGreen,
					Quote:       quote("late write"),
				},
			}, nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, client.SetCriteria(ctx, "s1", testCriteria(3)))

	assert.Equal(t, 2, calls, "reset should retry after the group set changed")
	assert.False(t, mr.Exists(ProgressKey("test-instance", "s1", 7)))
	groups, err := client.ListGroups(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUpdateProgress(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	id := uuid.New().String()

	t.Run("writes dirty entries and returns merged map", func(t *testing.T) {
		result, err := client.UpdateProgress(ctx, "s1", 4, func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
			assert.Empty(t, current)
			return map[string]*ProgressEntry{
				id: {SessionID: "s1", GroupNumber: 4, CriterionID: id, Status: StatusGreen, Quote: quote("yes"), Completed: true},
			}, nil
		})
		require.NoError(t, err)
		require.Contains(t, result, id)

		stored, err := client.GetProgress(ctx, "s1", 4)
		require.NoError(t, err)
		require.Contains(t, stored, id)
		assert.Equal(t, StatusGreen, stored[id].Status)
		assert.Equal(t, "yes", *stored[id].Quote)
		assert.NotNil(t, stored[id].History)

		groups, err := client.ListGroups(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []int{4}, groups)
	})

	t.Run("mutator sees freshest stored state", func(t *testing.T) {
		var seen *ProgressEntry
		_, err := client.UpdateProgress(ctx, "s1", 4, func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
			seen = current[id]
			return nil, nil
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, StatusGreen, seen.Status)
	})

	t.Run("rejects entries violating the grey-quote invariant", func(t *testing.T) {
		other := uuid.New().String()
		_, err := client.UpdateProgress(ctx, "s1", 4, func(current map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
			return map[string]*ProgressEntry{
				other: {SessionID: "s1", GroupNumber: 4, CriterionID: other, Status: StatusGrey, Quote: quote("nope")},
			}, nil
		})
		assert.Error(t, err)

		stored, err := client.GetProgress(ctx, "s1", 4)
		require.NoError(t, err)
		assert.NotContains(t, stored, other)
	})
}

func TestScenarioAndGate(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("scenario is only set when absent", func(t *testing.T) {
		scenario, err := client.GetScenario(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "", scenario)

		require.NoError(t, client.SetScenarioIfAbsent(ctx, "s1", "first"))
		require.NoError(t, client.SetScenarioIfAbsent(ctx, "s1", "second"))

		scenario, err = client.GetScenario(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "first", scenario)
	})

	t.Run("gate keeps the first release time", func(t *testing.T) {
		gate, err := client.GetGate(ctx, "s1", 2)
		require.NoError(t, err)
		assert.False(t, gate.Released)

		first := time.UnixMilli(1_700_000_000_000)
		require.NoError(t, client.SetReleased(ctx, "s1", 2, first))
		require.NoError(t, client.SetReleased(ctx, "s1", 2, first.Add(time.Hour)))

		gate, err = client.GetGate(ctx, "s1", 2)
		require.NoError(t, err)
		assert.True(t, gate.Released)
		assert.Equal(t, first.UnixMilli(), gate.ReleasedAtMs)

		other, err := client.GetGate(ctx, "s1", 3)
		require.NoError(t, err)
		assert.False(t, other.Released)
	})
}

func TestDeleteSession(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	criteria := testCriteria(1)
	require.NoError(t, client.SetCriteria(ctx, "s1", criteria))
	require.NoError(t, client.SetReleased(ctx, "s1", 1, time.Now()))
	_, err := client.UpdateProgress(ctx, "s1", 1, func(map[string]*ProgressEntry) (map[string]*ProgressEntry, error) {
		return map[string]*ProgressEntry{
			criteria[0].ID: {SessionID: "s1", GroupNumber: 1, CriterionID: criteria[0].ID, Status: StatusGrey},
		}, nil
	})
	require.NoError(t, err)

	require.NoError(t, client.DeleteSession(ctx, "s1"))

	assert.False(t, mr.Exists(CriteriaKey("test-instance", "s1")))
	assert.False(t, mr.Exists(ProgressKey("test-instance", "s1", 1)))
	assert.False(t, mr.Exists(SessionMetaKey("test-instance", "s1")))
}

func TestPublishSnapshotReachesBothAudiences(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sessionSub, err := client.SubscribeSession(ctx, "s1")
	require.NoError(t, err)
	defer sessionSub.Close()

	groupSub, err := client.SubscribeGroup(ctx, "s1", 7)
	require.NoError(t, err)
	defer groupSub.Close()

	otherGroupSub, err := client.SubscribeGroup(ctx, "s1", 8)
	require.NoError(t, err)
	defer otherGroupSub.Close()

	snapshot := &Snapshot{
		GroupNumber: 7,
		Criteria: []SnapshotCriterion{
			{ID: 0, DBID: uuid.New().String(), Description: "d", Rubric: "r", Status: StatusRed, Quote: quote("q")},
		},
		Scenario:  "scenario",
		Timestamp: 42,
	}
	require.NoError(t, client.PublishSnapshot(ctx, "s1", snapshot))

	for name, sub := range map[string]*SnapshotSubscription{"session": sessionSub, "group": groupSub} {
		select {
		case got := <-sub.Events():
			assert.Equal(t, snapshot, got, name)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s snapshot", name)
		}
	}

	select {
	case got := <-otherGroupSub.Events():
		t.Fatalf("unexpected snapshot on other group channel: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishChanges(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeChanges(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()

	event := &ChangeEvent{
		SessionID:   "s1",
		GroupNumber: 2,
		Changes: []ProgressChange{
			{CriterionID: uuid.New().String(), Index: 1, From: StatusGrey, To: StatusRed, Quote: quote("q"), TimestampMs: 1},
		},
		TimestampMs: 1,
	}
	require.NoError(t, client.PublishChanges(ctx, event))

	select {
	case got := <-sub.Events():
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
	}
}

func TestSubscriptionClose(t *testing.T) {
	client, _ := setupTestClient(t)
	sub, err := client.SubscribeSession(context.Background(), "s1")
	require.NoError(t, err)

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}
