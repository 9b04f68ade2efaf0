// Package activity keeps a bounded, queryable audit trail of trigger and
// execution lifecycle events. The history panel renders one row per
// execution, so status changes update the same entry in place via Modify
// rather than appending a new one per transition.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry types.
const (
	TriggerCreated     = "trigger_created"
	TriggerUpdated     = "trigger_updated"
	TriggerDeleted     = "trigger_deleted"
	TriggerExecuted    = "trigger_executed"
	ExecutionSuccess   = "execution_success"
	ExecutionFailed    = "execution_failed"
	ExecutionCancelled = "execution_cancelled"
)

// MaxEntries is the retention cap; oldest entries are evicted first.
const MaxEntries = 100

// Entry is a single activity log row.
type Entry struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	ProjectID   string         `json:"project_id,omitempty"`
	TriggerID   string         `json:"trigger_id,omitempty"`
	TriggerName string         `json:"trigger_name,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Update carries fields to merge into an existing entry. Zero-value fields
// do not overwrite; Metadata keys are shallow-merged into the existing map.
type Update struct {
	Type        string
	Message     string
	ProjectID   string
	TriggerID   string
	TriggerName string
	Metadata    map[string]any
}

// ModifyOptions controls Modify matching behavior.
type ModifyOptions struct {
	// MatchTypes restricts matches to entries of one of these types.
	MatchTypes []string
	// AddIfNotFound appends a new entry when no match exists.
	AddIfNotFound bool
}

// Persister mirrors log mutations to durable storage. All methods are
// best-effort from the log's perspective.
type Persister interface {
	SaveActivityEntry(e *Entry) error
	UpdateActivityEntry(e *Entry) error
	DeleteActivityForProject(projectID string) error
}

// Log is the in-memory activity store. Entries are kept most-recent-first.
type Log struct {
	mu        sync.RWMutex
	entries   []*Entry
	persister Persister

	subsMu sync.RWMutex
	subs   []chan Entry
}

// New creates an empty log. persister may be nil for memory-only use.
func New(persister Persister) *Log {
	return &Log{persister: persister}
}

// Seed loads previously persisted entries (most-recent-first) without
// re-persisting or notifying subscribers.
func (l *Log) Seed(entries []*Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}
	l.entries = append([]*Entry(nil), entries...)
}

// Add prepends a new entry with a generated id and current timestamp, then
// truncates to the retention cap. Returns the stored entry.
func (l *Log) Add(e Entry) *Entry {
	stored := e
	if stored.ID == "" {
		stored.ID = uuid.New().String()[:8]
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append([]*Entry{&stored}, l.entries...)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[:MaxEntries]
	}
	snap := stored.clone()
	l.mu.Unlock()

	if l.persister != nil {
		l.persister.SaveActivityEntry(snap)
	}
	l.broadcast(*snap)
	return snap
}

// Modify finds the most recent entry matching executionID (and, if
// opts.MatchTypes is set, one of those types) and merges upd into it.
// Returns true if an entry was updated, or appended via AddIfNotFound.
func (l *Log) Modify(executionID string, upd Update, opts *ModifyOptions) bool {
	l.mu.Lock()
	var match *Entry
	for _, e := range l.entries {
		if e.ExecutionID != executionID {
			continue
		}
		if opts != nil && len(opts.MatchTypes) > 0 && !containsType(opts.MatchTypes, e.Type) {
			continue
		}
		match = e
		break
	}

	if match == nil {
		l.mu.Unlock()
		if opts != nil && opts.AddIfNotFound {
			l.Add(Entry{
				Type:        upd.Type,
				Message:     upd.Message,
				ProjectID:   upd.ProjectID,
				TriggerID:   upd.TriggerID,
				TriggerName: upd.TriggerName,
				ExecutionID: executionID,
				Metadata:    upd.Metadata,
			})
			return true
		}
		return false
	}

	if upd.Type != "" {
		match.Type = upd.Type
	}
	if upd.Message != "" {
		match.Message = upd.Message
	}
	if upd.ProjectID != "" {
		match.ProjectID = upd.ProjectID
	}
	if upd.TriggerID != "" {
		match.TriggerID = upd.TriggerID
	}
	if upd.TriggerName != "" {
		match.TriggerName = upd.TriggerName
	}
	if len(upd.Metadata) > 0 {
		if match.Metadata == nil {
			match.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			match.Metadata[k] = v
		}
	}
	updated := match.clone()
	l.mu.Unlock()

	if l.persister != nil {
		l.persister.UpdateActivityEntry(updated)
	}
	l.broadcast(*updated)
	return true
}

// HasCompletionLog reports whether a terminal (success/failed) entry exists
// for the execution. Used to avoid duplicate terminal notifications.
func (l *Log) HasCompletionLog(executionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ExecutionID == executionID && (e.Type == ExecutionSuccess || e.Type == ExecutionFailed) {
			return true
		}
	}
	return false
}

// Recent returns copies of up to count entries, most recent first.
func (l *Log) Recent(count int) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEntries(l.entries, count)
}

// ForProject returns copies of up to count entries for the project, most
// recent first.
func (l *Log) ForProject(projectID string, count int) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []*Entry
	for _, e := range l.entries {
		if e.ProjectID == projectID {
			filtered = append(filtered, e)
		}
	}
	return copyEntries(filtered, count)
}

// ClearProject removes all entries for a project.
func (l *Log) ClearProject(projectID string) {
	l.mu.Lock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.ProjectID != projectID {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	l.mu.Unlock()

	if l.persister != nil {
		l.persister.DeleteActivityForProject(projectID)
	}
}

// Len returns the current entry count.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe returns a channel receiving every added or modified entry.
func (l *Log) Subscribe() chan Entry {
	ch := make(chan Entry, 100)
	l.subsMu.Lock()
	l.subs = append(l.subs, ch)
	l.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (l *Log) Unsubscribe(ch chan Entry) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for i, sub := range l.subs {
		if sub == ch {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (l *Log) broadcast(e Entry) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// Channel full, skip
		}
	}
}

// clone detaches an entry from the live store so readers never share the
// Metadata map that Modify writes into.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyEntries(src []*Entry, count int) []*Entry {
	if count <= 0 || count > len(src) {
		count = len(src)
	}
	out := make([]*Entry, count)
	for i, e := range src[:count] {
		out[i] = e.clone()
	}
	return out
}

func containsType(types []string, t string) bool {
	for _, mt := range types {
		if mt == t {
			return true
		}
	}
	return false
}
