package model

import "encoding/json"

// ActivityKind enumerates the audit events emitted by a live session.
type ActivityKind string

const (
	ActivityJoined            ActivityKind = "joined"
	ActivityModuleStarted     ActivityKind = "module_started"
	ActivityModuleSubmitted   ActivityKind = "module_submitted"
	ActivityTabSwitch         ActivityKind = "tab_switch"
	ActivityBlockedShortcut   ActivityKind = "blocked_shortcut"
	ActivityDevtoolsSuspected ActivityKind = "devtools_suspected"
	ActivityForcedExit        ActivityKind = "forced_exit"
	ActivityCompleted         ActivityKind = "completed"
)

// ActivityEvent is queued by sessions and persisted in batches by the activity worker.
type ActivityEvent struct {
	UserID    string          `json:"user_id"`
	TestID    string          `json:"test_id"`
	Kind      ActivityKind    `json:"kind"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
