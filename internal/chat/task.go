// Package chat holds per-project chat tasks and starts agent work through a
// pluggable Runner.
package chat

import "time"

// Status is the coarse chat-task status shared with the desktop UI.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusPause    Status = "pause"
	StatusFinished Status = "finished"
)

// Phase is the explicit fine-grained task state. It replaces the old habit of
// re-deriving "busy" from message shape at every check site.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSplitting
	PhaseComputing
	PhaseRunning
	PhasePaused
	PhaseTakenOver
	PhaseFinished
)

// String returns the phase name for logs and API responses.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSplitting:
		return "splitting"
	case PhaseComputing:
		return "computing"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseTakenOver:
		return "taken_over"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

// Busy reports whether a task in this phase blocks new background work in
// its project.
func (p Phase) Busy() bool {
	switch p {
	case PhaseSplitting, PhaseComputing, PhaseRunning, PhasePaused, PhaseTakenOver:
		return true
	}
	return false
}

// Message steps.
const (
	// StepToSubTasks marks the message that splits a task into sub-tasks.
	// It stays unconfirmed until the user (or agent) accepts the split.
	StepToSubTasks = "to_sub_tasks"
)

// Message is a single chat message within a task.
type Message struct {
	Step      string    `json:"step,omitempty"`
	Content   string    `json:"content,omitempty"`
	Confirmed bool      `json:"confirmed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is one unit of agent work within a project.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Status      Status    `json:"status"`
	Phase       Phase     `json:"phase"`
	Messages    []Message `json:"messages,omitempty"`
	TakeControl bool      `json:"take_control"`
	Attachments []string  `json:"attachments,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Busy reports whether this task blocks new background work.
func (t *Task) Busy() bool {
	return t.Phase.Busy()
}

// clone detaches a task from the live store; the Messages and Attachments
// slices are copied so readers never alias a slice mid-append.
func (t *Task) clone() *Task {
	c := *t
	if len(t.Messages) > 0 {
		c.Messages = append([]Message(nil), t.Messages...)
	}
	if len(t.Attachments) > 0 {
		c.Attachments = append([]string(nil), t.Attachments...)
	}
	return &c
}

// PhaseForTask derives a phase from the legacy status/message shape. It is
// the single place the old heuristic lives; used when ingesting task
// snapshots that predate the explicit phase field.
func PhaseForTask(t *Task) Phase {
	if t.TakeControl {
		return PhaseTakenOver
	}
	switch t.Status {
	case StatusFinished:
		return PhaseFinished
	case StatusRunning:
		return PhaseRunning
	case StatusPause:
		return PhasePaused
	}
	// Pending: a task mid-split has an unconfirmed to_sub_tasks message; a
	// task with messages but no split yet is still computing its skeleton.
	hasMessages := len(t.Messages) > 0
	for _, m := range t.Messages {
		if m.Step == StepToSubTasks {
			if !m.Confirmed {
				return PhaseSplitting
			}
			return PhaseIdle
		}
	}
	if hasMessages {
		return PhaseComputing
	}
	return PhaseIdle
}
