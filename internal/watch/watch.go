package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/rubricwatch/pkg/checklist"
)

// GateReader reads release gates. *checklist.Client implements it.
type GateReader interface {
	GetGate(ctx context.Context, sessionID string, group int) (checklist.Gate, error)
}

// Subscriber opens snapshot subscriptions. *checklist.Client implements it.
type Subscriber interface {
	SubscribeSession(ctx context.Context, sessionID string) (*checklist.SnapshotSubscription, error)
	SubscribeGroup(ctx context.Context, sessionID string, group int) (*checklist.SnapshotSubscription, error)
}

// AllGroups selects the session audience in StreamSnapshots.
const AllGroups = -1

// PollForRelease polls a group's release gate until it opens.
// Returns the gate or an error if timeout occurs.
// Polls every 200ms for the specified timeout duration.
func PollForRelease(ctx context.Context, gates GateReader, sessionID string, group int, timeout time.Duration) (checklist.Gate, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return checklist.Gate{}, ctx.Err()

		case <-timeoutCh:
			return checklist.Gate{}, fmt.Errorf("timeout waiting for release of group %d after %v", group, timeout)

		case <-ticker.C:
			gate, err := gates.GetGate(ctx, sessionID, group)
			if err != nil {
				return checklist.Gate{}, fmt.Errorf("failed to query release gate: %w", err)
			}
			if gate.Released {
				return gate, nil
			}
		}
	}
}

// StreamSnapshots subscribes to a session's broadcasts, or to one group's
// room when group is not AllGroups, and calls fn for every snapshot until ctx
// is cancelled or fn returns an error. Subscription decode errors are passed
// to onErr when it is non-nil and do not stop the stream.
//
// Returns nil when ctx is cancelled.
func StreamSnapshots(ctx context.Context, subs Subscriber, sessionID string, group int, fn func(*checklist.Snapshot) error, onErr func(error)) error {
	var sub *checklist.SnapshotSubscription
	var err error
	if group == AllGroups {
		sub, err = subs.SubscribeSession(ctx, sessionID)
	} else {
		sub, err = subs.SubscribeGroup(ctx, sessionID, group)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case snapshot, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := fn(snapshot); err != nil {
				return err
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			if onErr != nil {
				onErr(err)
			}
		}
	}
}
