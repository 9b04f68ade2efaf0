package execution

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eigent-ai/eigentd/internal/chat"
	"github.com/eigent-ai/eigentd/internal/stream"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/p1/tasks" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("expected event-stream accept header, got %q", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
}

func TestRunner_RunConsumesStream(t *testing.T) {
	srv := sseServer(t,
		`data: {"type":"message","step":"plan","content":"thinking"}`,
		`: keepalive`,
		`data: {"type":"message","content":"done the thing"}`,
		`data: [DONE]`,
	)
	defer srv.Close()

	streams := stream.NewRegistry()
	r := NewRunner(srv.URL, streams, nil)
	store := chat.NewStore("p1", nil)
	store.AddTask(&chat.Task{ID: "t1"})

	err := r.Run(context.Background(), store, chat.StartRequest{TaskID: "t1", ProjectID: "p1", Content: "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task := store.Get("t1")
	if len(task.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(task.Messages))
	}
	if task.Messages[0].Step != "plan" || task.Messages[1].Content != "done the thing" {
		t.Errorf("unexpected messages: %+v", task.Messages)
	}
	if streams.ActiveCount() != 0 {
		t.Errorf("expected stream released after run, got %d active", streams.ActiveCount())
	}
}

func TestRunner_RunEndEvent(t *testing.T) {
	srv := sseServer(t, `data: {"type":"end"}`)
	defer srv.Close()

	r := NewRunner(srv.URL, stream.NewRegistry(), nil)
	if err := r.Run(context.Background(), chat.NewStore("p1", nil), chat.StartRequest{TaskID: "t1", ProjectID: "p1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunner_RunErrorEvent(t *testing.T) {
	srv := sseServer(t, `data: {"type":"error","error":"agent crashed"}`)
	defer srv.Close()

	r := NewRunner(srv.URL, stream.NewRegistry(), nil)
	err := r.Run(context.Background(), chat.NewStore("p1", nil), chat.StartRequest{TaskID: "t1", ProjectID: "p1"})
	if err == nil {
		t.Fatal("expected error event to fail the run")
	}
}

func TestRunner_RunTruncatedStream(t *testing.T) {
	// Stream ends without an end event or [DONE]: the run must not be
	// reported as successful.
	srv := sseServer(t, `data: {"type":"message","content":"partial"}`)
	defer srv.Close()

	r := NewRunner(srv.URL, stream.NewRegistry(), nil)
	err := r.Run(context.Background(), chat.NewStore("p1", nil), chat.StartRequest{TaskID: "t1", ProjectID: "p1"})
	if err == nil {
		t.Fatal("expected truncated stream to fail the run")
	}
}

func TestRunner_RunBackendRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewRunner(srv.URL, stream.NewRegistry(), nil)
	err := r.Run(context.Background(), chat.NewStore("p1", nil), chat.StartRequest{TaskID: "t1", ProjectID: "p1"})
	if err == nil {
		t.Fatal("expected error on 404 response")
	}
}
