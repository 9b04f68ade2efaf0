package execution

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/eigent-ai/eigentd/internal/chat"
	"github.com/eigent-ai/eigentd/internal/stream"
)

// Runner runs chat tasks against the remote backend, streaming agent events
// until the task reaches a terminal state. Open streams are tracked in the
// registry so the coordinator can detect and tear down leftovers.
type Runner struct {
	baseURL string
	http    *http.Client
	streams *stream.Registry
	logger  *log.Logger
}

// NewRunner creates a backend task runner.
func NewRunner(baseURL string, streams *stream.Registry, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{Prefix: "runner"})
	}
	return &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No timeout: task streams stay open for the lifetime of the run.
		http:    &http.Client{},
		streams: streams,
		logger:  logger,
	}
}

// startTaskRequest is the wire shape of a task start.
type startTaskRequest struct {
	TaskID        string   `json:"task_id"`
	Content       string   `json:"content"`
	Attachments   []string `json:"attachments,omitempty"`
	ExecutionID   string   `json:"execution_id,omitempty"`
	TriggerTaskID string   `json:"trigger_task_id,omitempty"`
}

// streamEvent is one event on the task stream.
type streamEvent struct {
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Run starts the task on the backend and consumes its event stream until it
// ends. It blocks for the duration of the run and returns an error if the
// run fails or the stream breaks.
func (r *Runner) Run(ctx context.Context, store *chat.Store, req chat.StartRequest) error {
	if r.baseURL == "" {
		return fmt.Errorf("backend URL not configured")
	}

	body, err := json.Marshal(startTaskRequest{
		TaskID:        req.TaskID,
		Content:       req.Content,
		Attachments:   req.Attachments,
		ExecutionID:   req.ExecutionID,
		TriggerTaskID: req.TriggerTaskID,
	})
	if err != nil {
		return fmt.Errorf("encode start request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	url := fmt.Sprintf("%s/api/projects/%s/tasks", r.baseURL, req.ProjectID)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("start task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("backend returned %s", resp.Status)
	}

	// A force-close from the registry cancels the request context, which
	// unblocks the scanner below.
	if r.streams != nil {
		r.streams.Open(req.TaskID, cancel)
		defer r.streams.Release(req.TaskID)
	}

	return r.consume(resp.Body, store, req)
}

// consume reads SSE data lines off the task stream and applies them to the
// task through the store until the stream ends.
func (r *Runner) consume(body io.Reader, store *chat.Store, req chat.StartRequest) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	finished := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				finished = true
				break
			}
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			r.logger.Debug("unparseable stream event", "task", req.TaskID, "payload", payload)
			continue
		}

		switch ev.Type {
		case "message":
			store.AppendMessage(req.TaskID, chat.Message{Step: ev.Step, Content: ev.Content})
		case "error":
			return fmt.Errorf("task failed: %s", ev.Error)
		case "end":
			finished = true
		}
		if finished {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("task stream broken: %w", err)
	}
	if !finished {
		return fmt.Errorf("task stream ended unexpectedly")
	}

	r.logger.Info("task stream completed", "task", req.TaskID, "execution", req.ExecutionID)
	return nil
}
