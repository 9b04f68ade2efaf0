package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Client reports execution status to the remote backend.
// All calls are best-effort from the caller's perspective: the coordinator
// fires them in their own goroutines and only logs failures.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log.NewWithOptions(io.Discard, log.Options{Prefix: "backend"}),
	}
}

// SetLogger replaces the discard logger (used by the daemon).
func (c *Client) SetLogger(logger *log.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// statusRequest is the wire shape of a status update.
type statusRequest struct {
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	TriggerID    string `json:"trigger_id,omitempty"`
	TriggerName  string `json:"trigger_name,omitempty"`
}

// UpdateExecutionStatus pushes a status transition for an execution.
// The backend runs a ~60s watchdog that marks executions as missed if no
// running status arrives, so callers send the running transition eagerly.
func (c *Client) UpdateExecutionStatus(ctx context.Context, executionID string, upd StatusUpdate, corr Correlation) error {
	if c.baseURL == "" {
		return fmt.Errorf("backend URL not configured")
	}
	if executionID == "" {
		return fmt.Errorf("empty execution id")
	}

	body, err := json.Marshal(statusRequest{
		Status:       upd.Status,
		ErrorMessage: upd.ErrorMessage,
		ProjectID:    corr.ProjectID,
		TriggerID:    corr.TriggerID,
		TriggerName:  corr.TriggerName,
	})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}

	url := fmt.Sprintf("%s/api/executions/%s/status", c.baseURL, executionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %s", resp.Status)
	}

	c.logger.Debug("reported execution status",
		"execution", executionID, "status", upd.Status.String())
	return nil
}
