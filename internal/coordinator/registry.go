package coordinator

import "sync"

// ExecutionMapping correlates a chat task back to the trigger execution that
// queued it, for UI attribution and downstream reporting.
type ExecutionMapping struct {
	ChatTaskID    string `json:"chat_task_id"`
	ExecutionID   string `json:"execution_id"`
	TriggerTaskID string `json:"trigger_task_id,omitempty"`
	ProjectID     string `json:"project_id"`
	TriggerID     string `json:"trigger_id,omitempty"`
	TriggerName   string `json:"trigger_name,omitempty"`
}

// Registry is the chat-task → execution correlation side table. Kept
// separate from the chat task itself so the chat model stays free of
// trigger-specific concerns.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]*ExecutionMapping // chatTaskID -> mapping
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]*ExecutionMapping)}
}

// RegisterExecutionMapping records the correlation for a chat task. Upserts
// are idempotent; chat task ids are freshly generated so collisions only
// occur on deliberate re-registration.
func (r *Registry) RegisterExecutionMapping(chatTaskID, executionID, triggerTaskID, projectID, triggerName, triggerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[chatTaskID] = &ExecutionMapping{
		ChatTaskID:    chatTaskID,
		ExecutionID:   executionID,
		TriggerTaskID: triggerTaskID,
		ProjectID:     projectID,
		TriggerID:     triggerID,
		TriggerName:   triggerName,
	}
}

// Lookup returns the mapping for a chat task, or nil.
func (r *Registry) Lookup(chatTaskID string) *ExecutionMapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mappings[chatTaskID]
}

// Remove drops the mapping for a chat task.
func (r *Registry) Remove(chatTaskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mappings, chatTaskID)
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mappings)
}
