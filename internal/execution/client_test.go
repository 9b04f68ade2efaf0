package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_UpdateExecutionStatus(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.UpdateExecutionStatus(context.Background(), "ex1",
		StatusUpdate{Status: StatusFailed, ErrorMessage: "boom"},
		Correlation{ProjectID: "p1", TriggerID: "trig1", TriggerName: "nightly"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/executions/ex1/status" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotBody["status"] != float64(StatusFailed) {
		t.Errorf("expected status %d, got %v", StatusFailed, gotBody["status"])
	}
	if gotBody["error_message"] != "boom" {
		t.Errorf("expected error message, got %v", gotBody["error_message"])
	}
	if gotBody["project_id"] != "p1" || gotBody["trigger_name"] != "nightly" {
		t.Errorf("expected correlation fields, got %v", gotBody)
	}
}

func TestClient_UpdateExecutionStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	upd := StatusUpdate{Status: StatusRunning}
	if err := c.UpdateExecutionStatus(context.Background(), "ex1", upd, Correlation{}); err == nil {
		t.Error("expected error on 500 response")
	}
	if err := c.UpdateExecutionStatus(context.Background(), "", upd, Correlation{}); err == nil {
		t.Error("expected error on empty execution id")
	}

	unconfigured := NewClient("")
	if err := unconfigured.UpdateExecutionStatus(context.Background(), "ex1", upd, Correlation{}); err == nil {
		t.Error("expected error when backend URL unset")
	}
}

func TestStatus_TerminalAndString(t *testing.T) {
	cases := []struct {
		status   Status
		terminal bool
		name     string
	}{
		{StatusPending, false, "pending"},
		{StatusRunning, false, "running"},
		{StatusCompleted, true, "completed"},
		{StatusFailed, true, "failed"},
		{StatusCancelled, true, "cancelled"},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", tc.name, got, tc.terminal)
		}
		if got := tc.status.String(); got != tc.name {
			t.Errorf("Status(%d).String() = %q, want %q", tc.status, got, tc.name)
		}
	}
}
