// Package execution defines the trigger-execution status taxonomy and the
// client that reports status transitions to the remote backend.
package execution

// Status is the lifecycle status of a trigger execution. The numeric values
// are part of the backend wire contract and must not be reordered.
type Status int

const (
	StatusPending   Status = 0 // queued server-side, not yet picked up
	StatusRunning   Status = 1
	StatusCompleted Status = 2
	StatusFailed    Status = 3
	StatusCancelled Status = 4
)

// String returns the lowercase name used in logs and API responses.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StatusUpdate is the payload sent to the backend when an execution changes
// status.
type StatusUpdate struct {
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Correlation carries the trigger metadata the backend uses to attribute a
// status update.
type Correlation struct {
	ProjectID   string `json:"project_id,omitempty"`
	TriggerID   string `json:"trigger_id,omitempty"`
	TriggerName string `json:"trigger_name,omitempty"`
}
