package chat

import (
	"context"
	"errors"
	"testing"
)

func TestStore_StartTaskSuccess(t *testing.T) {
	var ran bool
	s := NewStore("p1", RunnerFunc(func(ctx context.Context, store *Store, req StartRequest) error {
		ran = true
		if task := store.Get(req.TaskID); task == nil || task.Status != StatusRunning {
			t.Errorf("expected task running during run, got %+v", task)
		}
		return nil
	}))

	err := s.StartTask(context.Background(), StartRequest{TaskID: "t1", Content: "go", ExecutionID: "ex1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("runner never invoked")
	}

	task := s.Get("t1")
	if task == nil {
		t.Fatal("task not recorded")
	}
	if task.Status != StatusFinished {
		t.Errorf("expected finished, got %s", task.Status)
	}
	if task.Phase != PhaseFinished {
		t.Errorf("expected phase finished, got %s", task.Phase)
	}
	if task.ExecutionID != "ex1" {
		t.Errorf("expected execution id carried onto task, got %q", task.ExecutionID)
	}
}

func TestStore_StartTaskFailureStillFinishes(t *testing.T) {
	s := NewStore("p1", RunnerFunc(func(ctx context.Context, store *Store, req StartRequest) error {
		return errors.New("stream broke")
	}))

	err := s.StartTask(context.Background(), StartRequest{TaskID: "t1"})
	if err == nil {
		t.Fatal("expected runner error to propagate")
	}
	if task := s.Get("t1"); task == nil || task.Status != StatusFinished {
		t.Error("expected task to reach finished even on failure")
	}
	if s.Busy() {
		t.Error("finished task must not keep the project busy")
	}
}

func TestStore_StartTaskDuplicateID(t *testing.T) {
	s := NewStore("p1", RunnerFunc(func(ctx context.Context, store *Store, req StartRequest) error {
		return nil
	}))
	if err := s.StartTask(context.Background(), StartRequest{TaskID: "t1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.StartTask(context.Background(), StartRequest{TaskID: "t1"}); err == nil {
		t.Fatal("expected duplicate task id to be rejected")
	}
}

func TestStore_BusyTracksPhases(t *testing.T) {
	s := NewStore("p1", nil)
	if s.Busy() {
		t.Fatal("empty store must not be busy")
	}

	s.AddTask(&Task{ID: "t1", Status: StatusRunning})
	if !s.Busy() {
		t.Error("running task should make store busy")
	}

	s.SetStatus("t1", StatusFinished)
	if s.Busy() {
		t.Error("finished task should not keep store busy")
	}

	s.SetTakeControl("t1", true)
	if !s.Busy() {
		t.Error("taken-over task should make store busy")
	}
	s.SetTakeControl("t1", false)

	s.AddTask(&Task{ID: "t2", Messages: []Message{{Step: StepToSubTasks}}})
	if !s.Busy() {
		t.Error("unconfirmed split should make store busy")
	}
	s.ConfirmSplit("t2")
	if s.Busy() {
		t.Error("confirmed split should release the store")
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore("p1", nil)
	s.AddTask(&Task{ID: "t1", Status: StatusRunning, Messages: []Message{{Content: "a"}}})

	got := s.Get("t1")
	got.Status = StatusFinished
	got.Messages[0].Content = "tampered"
	got.Messages = nil

	task := s.Get("t1")
	if task.Status != StatusRunning || len(task.Messages) != 1 || task.Messages[0].Content != "a" {
		t.Error("mutating a returned task must not affect the store")
	}
}

func TestStore_ConcurrentRunMutationsAndReads(t *testing.T) {
	s := NewStore("p1", RunnerFunc(func(ctx context.Context, store *Store, req StartRequest) error {
		for i := 0; i < 200; i++ {
			store.AppendMessage(req.TaskID, Message{Content: "chunk"})
		}
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.StartTask(context.Background(), StartRequest{TaskID: "t1"}) }()

	// Readers on other goroutines must never observe a mid-append slice.
	for i := 0; i < 200; i++ {
		s.Busy()
		s.TaskIDs()
		if task := s.Get("t1"); task != nil {
			_ = task.Status
			_ = len(task.Messages)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if task := s.Get("t1"); len(task.Messages) != 200 {
		t.Errorf("expected 200 messages, got %d", len(task.Messages))
	}
}

func TestStores_EnsureAndLookup(t *testing.T) {
	stores := NewStores(nil)

	if stores.ChatStore("p1") != nil {
		t.Fatal("expected nil for unknown project")
	}

	a := stores.Ensure("p1")
	if a == nil {
		t.Fatal("Ensure returned nil")
	}
	if b := stores.Ensure("p1"); b != a {
		t.Error("Ensure must be idempotent per project")
	}
	if stores.ChatStore("p1") != a {
		t.Error("ChatStore should return the ensured store")
	}
}
