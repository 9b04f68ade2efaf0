package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// StartRequest carries everything needed to start a chat task.
type StartRequest struct {
	TaskID        string
	ProjectID     string
	Content       string
	Attachments   []string
	ExecutionID   string
	TriggerTaskID string
}

// Runner performs the actual agent work for a task. The real runner streams
// from the remote backend; tests inject fakes. Run blocks until the task
// reaches a terminal state and returns an error on failure. All task
// mutations go through the store's locked methods.
type Runner interface {
	Run(ctx context.Context, store *Store, req StartRequest) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, store *Store, req StartRequest) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, store *Store, req StartRequest) error {
	return f(ctx, store, req)
}

// Store holds the chat tasks of one project.
type Store struct {
	projectID string
	runner    Runner
	logger    *log.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewStore creates a chat store for a project.
func NewStore(projectID string, runner Runner) *Store {
	return &Store{
		projectID: projectID,
		runner:    runner,
		logger:    log.NewWithOptions(io.Discard, log.Options{Prefix: "chat"}),
		tasks:     make(map[string]*Task),
	}
}

// SetLogger replaces the discard logger (used by the daemon).
func (s *Store) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ProjectID returns the owning project id.
func (s *Store) ProjectID() string {
	return s.projectID
}

// Get returns a copy of a task by id, or nil. Copies are safe to read while
// a run mutates the live task through the store.
func (s *Store) Get(id string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return t.clone()
}

// TaskIDs returns all task ids in insertion order.
func (s *Store) TaskIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Tasks returns a snapshot of all tasks in insertion order.
func (s *Store) Tasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].clone())
	}
	return out
}

// Busy reports whether any task in this project blocks new background work.
func (s *Store) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.Busy() {
			return true
		}
	}
	return false
}

// AddTask ingests an externally created task (user-initiated work). The
// phase is derived from the snapshot when not set explicitly.
func (s *Store) AddTask(t *Task) *Task {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.ProjectID == "" {
		t.ProjectID = s.projectID
	}
	if t.Phase == PhaseIdle && (t.Status != "" || len(t.Messages) > 0 || t.TakeControl) {
		t.Phase = PhaseForTask(t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.tasks[t.ID] = t
	return t
}

// SetStatus transitions a task's status and recomputes its phase.
func (s *Store) SetStatus(id string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	t.Phase = PhaseForTask(t)
}

// SetTakeControl flags a task as manually taken over by the user.
func (s *Store) SetTakeControl(id string, taken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.TakeControl = taken
	t.Phase = PhaseForTask(t)
}

// AppendMessage records a message on a task and recomputes its phase.
func (s *Store) AppendMessage(id string, m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	t.Messages = append(t.Messages, m)
	t.Phase = PhaseForTask(t)
}

// ConfirmSplit confirms a pending to_sub_tasks message on a task.
func (s *Store) ConfirmSplit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	for i := range t.Messages {
		if t.Messages[i].Step == StepToSubTasks {
			t.Messages[i].Confirmed = true
		}
	}
	t.Phase = PhaseForTask(t)
}

// StartTask creates a task for the request and runs it to completion through
// the runner. It blocks until the task reaches a terminal state; callers
// that must not block run it in a goroutine. The task ends finished whether
// the run succeeded or failed — retry is a trigger-level concern.
func (s *Store) StartTask(ctx context.Context, req StartRequest) error {
	if s.runner == nil {
		return fmt.Errorf("no runner configured for project %s", s.projectID)
	}

	t := &Task{
		ID:          req.TaskID,
		ProjectID:   s.projectID,
		Status:      StatusRunning,
		Phase:       PhaseRunning,
		Attachments: req.Attachments,
		ExecutionID: req.ExecutionID,
		CreatedAt:   time.Now(),
	}

	s.mu.Lock()
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("chat task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.mu.Unlock()

	s.logger.Info("chat task started", "project", s.projectID, "task", t.ID, "execution", req.ExecutionID)

	err := s.runner.Run(ctx, s, req)
	s.SetStatus(t.ID, StatusFinished)

	if err != nil {
		s.logger.Error("chat task failed", "project", s.projectID, "task", t.ID, "error", err)
		return err
	}
	s.logger.Info("chat task finished", "project", s.projectID, "task", t.ID)
	return nil
}
