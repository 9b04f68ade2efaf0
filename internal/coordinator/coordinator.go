// Package coordinator drains trigger-originated messages from project
// queues and runs them as background chat tasks, at most one active task per
// project, deferring to any interactive work in the same project.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/eigent-ai/eigentd/internal/activity"
	"github.com/eigent-ai/eigentd/internal/chat"
	"github.com/eigent-ai/eigentd/internal/execution"
	"github.com/eigent-ai/eigentd/internal/project"
)

// DefaultInterval is the poll period between coordinator ticks.
const DefaultInterval = 2 * time.Second

// ProjectModel is the slice of the project store the coordinator uses.
type ProjectModel interface {
	AllProjects() []*project.Project
	MarkQueuedMessageProcessing(projectID, taskID string) error
	RemoveQueuedMessage(projectID, taskID string) error
	Subscribe() chan struct{}
	Unsubscribe(ch chan struct{})
}

// ChatStore is the per-project chat surface the coordinator needs.
type ChatStore interface {
	Get(id string) *chat.Task
	TaskIDs() []string
	Busy() bool
	StartTask(ctx context.Context, req chat.StartRequest) error
}

// ChatStoreFunc looks up the chat store for a project. A nil result means
// the project has no chat store; claiming work for it is a setup failure.
type ChatStoreFunc func(projectID string) ChatStore

// Streams inspects and tears down backend streaming connections.
type Streams interface {
	HasActiveConnection(taskIDs []string) bool
	CloseConnectionsForTasks(taskIDs []string)
}

// Backend reports execution status transitions. Calls are best-effort.
type Backend interface {
	UpdateExecutionStatus(ctx context.Context, executionID string, upd execution.StatusUpdate, corr execution.Correlation) error
}

// Notifier surfaces background task failures to the user.
type Notifier interface {
	NotifyTaskFailed(projectID, triggerName, message string)
}

// ActiveTask tracks one in-flight background task.
type ActiveTask struct {
	ProjectID     string `json:"project_id"`
	ChatTaskID    string `json:"chat_task_id"`
	ExecutionID   string `json:"execution_id"`
	TriggerTaskID string `json:"trigger_task_id,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Projects ProjectModel
	Chats    ChatStoreFunc
	Streams  Streams
	Backend  Backend
	Activity *activity.Log
	Notifier Notifier
	Logger   *log.Logger
	Interval time.Duration
}

// Coordinator is the background task poll loop.
type Coordinator struct {
	projects ProjectModel
	chats    ChatStoreFunc
	streams  Streams
	backend  Backend
	activity *activity.Log
	notifier Notifier
	logger   *log.Logger
	interval time.Duration
	registry *Registry

	mu         sync.Mutex
	active     map[string]*ActiveTask // executionID -> task
	byProject  map[string]string      // projectID -> executionID
	running    bool
	stopCh     chan struct{}
	wake       chan struct{}
	intervalCh chan time.Duration
}

// New creates a coordinator from options.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{Prefix: "coordinator"})
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		projects:   opts.Projects,
		chats:      opts.Chats,
		streams:    opts.Streams,
		backend:    opts.Backend,
		activity:   opts.Activity,
		notifier:   opts.Notifier,
		logger:     logger,
		interval:   interval,
		registry:   NewRegistry(),
		active:     make(map[string]*ActiveTask),
		byProject:  make(map[string]string),
		intervalCh: make(chan time.Duration, 1),
	}
}

// Registry returns the execution correlation side table.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Start runs one synchronous tick, then launches the poll loop. Idempotent
// while running.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wake = c.projects.Subscribe()
	c.logger.Info("background coordinator started", "interval", c.interval)

	c.Tick(ctx)
	go c.loop(ctx)
}

// Stop halts the poll loop. In-flight tasks keep running server-side; only
// the client-side polling stops.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.projects.Unsubscribe(c.wake)
	c.logger.Info("background coordinator stopped")
}

// SetInterval changes the poll period. Takes effect on the next loop
// iteration.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	select {
	case c.intervalCh <- d:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	c.mu.Lock()
	interval := c.interval
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
		case <-ticker.C:
			c.Tick(ctx)
		case _, ok := <-c.wake:
			if !ok {
				return
			}
			c.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle: reconcile finished tasks, then claim and start
// at most one eligible queued message across all projects. Only the loop
// goroutine (or tests) may call it; it never blocks on a running task.
func (c *Coordinator) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tick panic recovered", "panic", r)
		}
	}()

	c.reconcile()

	for _, p := range c.projects.AllProjects() {
		c.mu.Lock()
		_, hasActive := c.byProject[p.ID]
		c.mu.Unlock()
		if hasActive {
			continue
		}

		msg := firstEligible(p)
		if msg == nil {
			continue
		}

		store := c.chats(p.ID)
		if store != nil {
			ids := store.TaskIDs()
			if len(ids) > 0 && c.streams.HasActiveConnection(ids) {
				// A live stream on a finished or confirmation-waiting task
				// is a leftover from a completed run. Close it and let a
				// later tick claim the message, rather than racing the
				// teardown.
				if hasStaleStream(store, ids) {
					c.streams.CloseConnectionsForTasks(ids)
					c.logger.Warn("closed stale stream connections", "project", p.ID)
				}
				continue
			}
			if store.Busy() {
				continue
			}
		}

		c.claimAndStart(ctx, p.ID, msg)
		return // at most one claim per tick
	}
}

// reconcile drops active entries whose chat task reached a terminal state.
// Unknown tasks are left alone rather than falsely evicted.
func (c *Coordinator) reconcile() {
	c.mu.Lock()
	entries := make([]*ActiveTask, 0, len(c.active))
	for _, at := range c.active {
		entries = append(entries, at)
	}
	c.mu.Unlock()

	for _, at := range entries {
		store := c.chats(at.ProjectID)
		if store == nil {
			continue
		}
		t := store.Get(at.ChatTaskID)
		if t == nil {
			continue
		}
		if t.Status == chat.StatusRunning || t.Status == chat.StatusPause {
			continue
		}
		c.dropActive(at.ExecutionID)
		c.logger.Info("reconciled finished background task",
			"project", at.ProjectID, "task", at.ChatTaskID, "execution", at.ExecutionID)
	}
}

func (c *Coordinator) claimAndStart(ctx context.Context, projectID string, msg *project.QueuedMessage) {
	if err := c.projects.MarkQueuedMessageProcessing(projectID, msg.TaskID); err != nil {
		c.logger.Error("claim queued message", "project", projectID, "task", msg.TaskID, "error", err)
		return
	}

	chatTaskID := uuid.New().String()
	at := &ActiveTask{
		ProjectID:     projectID,
		ChatTaskID:    chatTaskID,
		ExecutionID:   msg.ExecutionID,
		TriggerTaskID: msg.TriggerTaskID,
	}
	c.mu.Lock()
	c.active[msg.ExecutionID] = at
	c.byProject[projectID] = msg.ExecutionID
	c.mu.Unlock()

	c.registry.RegisterExecutionMapping(chatTaskID, msg.ExecutionID, msg.TriggerTaskID, projectID, msg.TriggerName, msg.TriggerID)

	corr := execution.Correlation{
		ProjectID:   projectID,
		TriggerID:   msg.TriggerID,
		TriggerName: msg.TriggerName,
	}

	// Report running eagerly: the backend's watchdog marks executions as
	// missed when no running status arrives within about a minute.
	go func() {
		if err := c.backend.UpdateExecutionStatus(context.Background(), msg.ExecutionID, execution.StatusUpdate{Status: execution.StatusRunning}, corr); err != nil {
			c.logger.Error("report running status", "execution", msg.ExecutionID, "error", err)
		}
	}()

	if c.activity != nil {
		c.activity.Modify(msg.ExecutionID, activity.Update{
			Type:        activity.TriggerExecuted,
			Message:     fmt.Sprintf("Executing trigger %s", triggerLabel(msg)),
			ProjectID:   projectID,
			TriggerID:   msg.TriggerID,
			TriggerName: msg.TriggerName,
			Metadata:    map[string]any{"status": "running", "chat_task_id": chatTaskID},
		}, &activity.ModifyOptions{
			MatchTypes:    []string{activity.TriggerExecuted},
			AddIfNotFound: true,
		})
	}

	c.logger.Info("starting background task",
		"project", projectID, "task", chatTaskID, "execution", msg.ExecutionID, "trigger", msg.TriggerName)

	store := c.chats(projectID)
	if store == nil {
		c.handleFailure(projectID, msg, corr, fmt.Errorf("no chat store for project %s", projectID))
		return
	}

	req := chat.StartRequest{
		TaskID:        chatTaskID,
		ProjectID:     projectID,
		Content:       msg.Content,
		Attachments:   msg.Attachments,
		ExecutionID:   msg.ExecutionID,
		TriggerTaskID: msg.TriggerTaskID,
	}

	// The tick does not wait for the task; the continuation cleans up when
	// the run reaches a terminal state.
	go func() {
		if err := store.StartTask(ctx, req); err != nil {
			c.handleFailure(projectID, msg, corr, err)
			return
		}
		c.handleSuccess(projectID, msg)
	}()
}

// handleSuccess is the terminal continuation for a completed run. The task
// reported its own terminal status to the backend while streaming, so only
// local bookkeeping remains.
func (c *Coordinator) handleSuccess(projectID string, msg *project.QueuedMessage) {
	if err := c.projects.RemoveQueuedMessage(projectID, msg.TaskID); err != nil {
		c.logger.Error("remove queued message", "project", projectID, "task", msg.TaskID, "error", err)
	}

	if c.activity != nil && !c.activity.HasCompletionLog(msg.ExecutionID) {
		c.activity.Modify(msg.ExecutionID, activity.Update{
			Type:      activity.ExecutionSuccess,
			Message:   fmt.Sprintf("Trigger %s completed", triggerLabel(msg)),
			ProjectID: projectID,
			Metadata:  map[string]any{"status": "completed"},
		}, &activity.ModifyOptions{
			MatchTypes:    []string{activity.TriggerExecuted},
			AddIfNotFound: true,
		})
	}

	c.dropActive(msg.ExecutionID)
	c.logger.Info("background task completed", "project", projectID, "execution", msg.ExecutionID)
}

// handleFailure is the terminal continuation for a failed or unstartable
// run. The message is not retried here; retry is a trigger-level concern.
func (c *Coordinator) handleFailure(projectID string, msg *project.QueuedMessage, corr execution.Correlation, runErr error) {
	c.logger.Error("background task failed",
		"project", projectID, "execution", msg.ExecutionID, "error", runErr)

	if err := c.projects.RemoveQueuedMessage(projectID, msg.TaskID); err != nil {
		c.logger.Error("remove queued message", "project", projectID, "task", msg.TaskID, "error", err)
	}

	go func() {
		if err := c.backend.UpdateExecutionStatus(context.Background(), msg.ExecutionID, execution.StatusUpdate{
			Status:       execution.StatusFailed,
			ErrorMessage: runErr.Error(),
		}, corr); err != nil {
			c.logger.Error("report failed status", "execution", msg.ExecutionID, "error", err)
		}
	}()

	if c.notifier != nil {
		c.notifier.NotifyTaskFailed(projectID, msg.TriggerName, runErr.Error())
	}

	if c.activity != nil && !c.activity.HasCompletionLog(msg.ExecutionID) {
		c.activity.Modify(msg.ExecutionID, activity.Update{
			Type:      activity.ExecutionFailed,
			Message:   fmt.Sprintf("Trigger %s failed: %s", triggerLabel(msg), runErr),
			ProjectID: projectID,
			Metadata:  map[string]any{"status": "failed", "error": runErr.Error()},
		}, &activity.ModifyOptions{
			MatchTypes:    []string{activity.TriggerExecuted},
			AddIfNotFound: true,
		})
	}

	c.dropActive(msg.ExecutionID)
}

func (c *Coordinator) dropActive(executionID string) {
	c.mu.Lock()
	at, ok := c.active[executionID]
	if ok {
		delete(c.active, executionID)
		if c.byProject[at.ProjectID] == executionID {
			delete(c.byProject, at.ProjectID)
		}
	}
	c.mu.Unlock()

	if ok {
		c.registry.Remove(at.ChatTaskID)
	}
}

// ActiveTasks returns a snapshot of in-flight background tasks.
func (c *Coordinator) ActiveTasks() []ActiveTask {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ActiveTask, 0, len(c.active))
	for _, at := range c.active {
		out = append(out, *at)
	}
	return out
}

// HasActiveTask reports whether a project has an in-flight background task.
func (c *Coordinator) HasActiveTask(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byProject[projectID]
	return ok
}

// firstEligible returns the first queue message with an execution id that is
// not already claimed, in queue order.
func firstEligible(p *project.Project) *project.QueuedMessage {
	for _, m := range p.QueuedMessages {
		if m.ExecutionID != "" && !m.Processing {
			return m
		}
	}
	return nil
}

// hasStaleStream reports whether any of the tasks holding a connection has
// already finished or is waiting on a split confirmation.
func hasStaleStream(store ChatStore, taskIDs []string) bool {
	for _, id := range taskIDs {
		t := store.Get(id)
		if t == nil {
			continue
		}
		if t.Status == chat.StatusFinished || t.Phase == chat.PhaseSplitting {
			return true
		}
	}
	return false
}

func triggerLabel(msg *project.QueuedMessage) string {
	if msg.TriggerName != "" {
		return fmt.Sprintf("%q", msg.TriggerName)
	}
	return msg.ExecutionID
}
