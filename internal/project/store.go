// Package project holds the project model: projects, their queued
// trigger-originated messages, and the subscription channel that wakes the
// coordinator when eligible work arrives.
package project

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// QueuedMessage is a pending task prompt pushed into a project's queue when
// a trigger fires server-side. A message with ExecutionID set is
// trigger-originated and eligible for background processing.
type QueuedMessage struct {
	TaskID        string   `json:"task_id"`
	Content       string   `json:"content"`
	Attachments   []string `json:"attachments,omitempty"`
	ExecutionID   string   `json:"execution_id,omitempty"`
	TriggerTaskID string   `json:"trigger_task_id,omitempty"`
	TriggerID     string   `json:"trigger_id,omitempty"`
	TriggerName   string   `json:"trigger_name,omitempty"`
	Processing    bool     `json:"processing"`
	Timestamp     int64    `json:"timestamp"` // insertion time, unix millis
}

// Project owns a queue of pending trigger messages.
type Project struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	QueuedMessages []*QueuedMessage `json:"queued_messages"`
}

// Persister mirrors store mutations to durable storage. Best-effort: the
// in-memory state is authoritative for the lifetime of the process.
type Persister interface {
	SaveProject(p *Project) error
	SaveQueuedMessage(projectID string, m *QueuedMessage) error
	MarkQueuedMessageProcessing(projectID, taskID string) error
	DeleteQueuedMessage(projectID, taskID string) error
}

// Store is the in-memory project registry. Projects are kept in insertion
// order so coordinator scans are deterministic.
type Store struct {
	mu        sync.RWMutex
	order     []string
	projects  map[string]*Project
	persister Persister
	logger    *log.Logger

	subsMu sync.RWMutex
	subs   []chan struct{}
}

// NewStore creates a store. persister may be nil for memory-only use.
func NewStore(persister Persister) *Store {
	return &Store{
		projects:  make(map[string]*Project),
		persister: persister,
		logger:    log.NewWithOptions(io.Discard, log.Options{Prefix: "project"}),
	}
}

// SetLogger replaces the discard logger (used by the daemon).
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Seed loads previously persisted projects without re-persisting.
func (s *Store) Seed(projects []*Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range projects {
		if _, ok := s.projects[p.ID]; ok {
			continue
		}
		s.projects[p.ID] = p
		s.order = append(s.order, p.ID)
	}
}

// AddProject registers a project. Returns the existing project if the id is
// already known.
func (s *Store) AddProject(id, name string) *Project {
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	if existing, ok := s.projects[id]; ok {
		s.mu.Unlock()
		return existing
	}
	p := &Project{ID: id, Name: name}
	s.projects[id] = p
	s.order = append(s.order, id)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveProject(p); err != nil {
			s.logger.Error("persist project", "project", id, "error", err)
		}
	}
	return p
}

// GetProject returns a snapshot of a project by id, or nil.
func (s *Store) GetProject(id string) *Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	snap := &Project{ID: p.ID, Name: p.Name}
	if len(p.QueuedMessages) > 0 {
		snap.QueuedMessages = make([]*QueuedMessage, len(p.QueuedMessages))
		for i, m := range p.QueuedMessages {
			mc := *m
			snap.QueuedMessages[i] = &mc
		}
	}
	return snap
}

// AllProjects returns a snapshot of all projects in insertion order. The
// returned projects and messages are copies: the coordinator scans them
// outside the store lock, and claims go back through the store by id.
func (s *Store) AllProjects() []*Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Project, 0, len(s.order))
	for _, id := range s.order {
		p := s.projects[id]
		snap := &Project{ID: p.ID, Name: p.Name}
		if len(p.QueuedMessages) > 0 {
			snap.QueuedMessages = make([]*QueuedMessage, len(p.QueuedMessages))
			for i, m := range p.QueuedMessages {
				mc := *m
				snap.QueuedMessages[i] = &mc
			}
		}
		out = append(out, snap)
	}
	return out
}

// EnqueueMessage appends a message to a project's queue. If the message
// carries an execution id, subscribers are woken so the coordinator can poll
// immediately instead of waiting for the next tick.
func (s *Store) EnqueueMessage(projectID string, m *QueuedMessage) error {
	if m.TaskID == "" {
		m.TaskID = uuid.New().String()
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown project %q", projectID)
	}
	p.QueuedMessages = append(p.QueuedMessages, m)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveQueuedMessage(projectID, m); err != nil {
			s.logger.Error("persist queued message", "project", projectID, "task", m.TaskID, "error", err)
		}
	}

	s.logger.Info("message queued", "project", projectID, "task", m.TaskID, "execution", m.ExecutionID)
	if m.ExecutionID != "" {
		s.notify()
	}
	return nil
}

// MarkQueuedMessageProcessing claims a queued message so subsequent scans
// skip it. Returns an error if the message is unknown.
func (s *Store) MarkQueuedMessageProcessing(projectID, taskID string) error {
	s.mu.Lock()
	m := s.findLocked(projectID, taskID)
	if m == nil {
		s.mu.Unlock()
		return fmt.Errorf("queued message %s/%s not found", projectID, taskID)
	}
	m.Processing = true
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.MarkQueuedMessageProcessing(projectID, taskID); err != nil {
			s.logger.Error("persist processing flag", "project", projectID, "task", taskID, "error", err)
		}
	}
	return nil
}

// RemoveQueuedMessage removes a message from a project's queue.
func (s *Store) RemoveQueuedMessage(projectID, taskID string) error {
	s.mu.Lock()
	p, ok := s.projects[projectID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown project %q", projectID)
	}
	found := false
	for i, m := range p.QueuedMessages {
		if m.TaskID == taskID {
			p.QueuedMessages = append(p.QueuedMessages[:i], p.QueuedMessages[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("queued message %s/%s not found", projectID, taskID)
	}
	if s.persister != nil {
		if err := s.persister.DeleteQueuedMessage(projectID, taskID); err != nil {
			s.logger.Error("delete queued message", "project", projectID, "task", taskID, "error", err)
		}
	}
	return nil
}

// Subscribe returns a channel that receives a signal whenever an
// execution-bearing message is enqueued. The channel is buffered and signals
// are dropped rather than blocking the enqueue path.
func (s *Store) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Store) Unsubscribe(ch chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			close(ch)
			break
		}
	}
}

func (s *Store) notify() {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Signal already pending, skip
		}
	}
}

func (s *Store) findLocked(projectID, taskID string) *QueuedMessage {
	p, ok := s.projects[projectID]
	if !ok {
		return nil
	}
	for _, m := range p.QueuedMessages {
		if m.TaskID == taskID {
			return m
		}
	}
	return nil
}
