package checklist

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple rubricwatch instances to safely coexist on a single Redis server.
//
// Key pattern: rubricwatch:{instance_name}:session:{session_id}:{entity}
// Channel pattern: rubricwatch:{instance_name}:{audience}:checklist

// CriteriaKey returns the Redis key for a session's criteria hash.
// Fields are criterion IDs, values are JSON-encoded criteria.
// Pattern: rubricwatch:{instance_name}:session:{session_id}:criteria
func CriteriaKey(instanceName, sessionID string) string {
	return fmt.Sprintf("rubricwatch:%s:session:%s:criteria", instanceName, sessionID)
}

// ProgressKey returns the Redis key for one group's progress hash.
// Fields are criterion IDs, values are JSON-encoded progress entries.
// Pattern: rubricwatch:{instance_name}:session:{session_id}:group:{group}:progress
func ProgressKey(instanceName, sessionID string, group int) string {
	return fmt.Sprintf("rubricwatch:%s:session:%s:group:%d:progress", instanceName, sessionID, group)
}

// GroupsKey returns the Redis key for the set of groups that have progress.
// Used to find every progress hash when a session's criteria are replaced.
// Pattern: rubricwatch:{instance_name}:session:{session_id}:groups
func GroupsKey(instanceName, sessionID string) string {
	return fmt.Sprintf("rubricwatch:%s:session:%s:groups", instanceName, sessionID)
}

// SessionMetaKey returns the Redis key for the session metadata hash.
// It holds the scenario text and one release field per released group.
// Pattern: rubricwatch:{instance_name}:session:{session_id}:meta
func SessionMetaKey(instanceName, sessionID string) string {
	return fmt.Sprintf("rubricwatch:%s:session:%s:meta", instanceName, sessionID)
}

// ScenarioField is the session metadata field holding the scenario text.
const ScenarioField = "scenario"

// ReleaseField returns the session metadata field holding a group's release time.
func ReleaseField(group int) string {
	return fmt.Sprintf("released:%d", group)
}

// SessionChannel returns the whole-session audience channel.
// Pattern: rubricwatch:{instance_name}:{session_id}:checklist
func SessionChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("rubricwatch:%s:%s:checklist", instanceName, sessionID)
}

// GroupChannel returns the group-room audience channel (`${session}-${group}`).
// Pattern: rubricwatch:{instance_name}:{session_id}-{group}:checklist
func GroupChannel(instanceName, sessionID string, group int) string {
	return fmt.Sprintf("rubricwatch:%s:%s-%d:checklist", instanceName, sessionID, group)
}

// ProgressEventsChannel returns the channel carrying per-round change events.
// Pattern: rubricwatch:{instance_name}:{session_id}:progress_events
func ProgressEventsChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("rubricwatch:%s:%s:progress_events", instanceName, sessionID)
}
