package db

import (
	"path/filepath"
	"testing"

	"github.com/eigent-ai/eigentd/internal/activity"
	"github.com/eigent-ai/eigentd/internal/project"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDB_ProjectRoundTrip(t *testing.T) {
	database := openTestDB(t)

	if err := database.SaveProject(&project.Project{ID: "p1", Name: "One"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := database.SaveQueuedMessage("p1", &project.QueuedMessage{
		TaskID:      "m1",
		Content:     "do X",
		Attachments: []string{"a.txt"},
		ExecutionID: "ex1",
		TriggerName: "nightly",
		Timestamp:   100,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if err := database.SaveQueuedMessage("p1", &project.QueuedMessage{
		TaskID:    "m2",
		Content:   "do Y",
		Timestamp: 50,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	projects, err := database.LoadProjects()
	if err != nil {
		t.Fatalf("load projects: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
	p := projects[0]
	if p.ID != "p1" || p.Name != "One" {
		t.Errorf("unexpected project: %+v", p)
	}
	if len(p.QueuedMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(p.QueuedMessages))
	}
	// Messages come back in timestamp order.
	if p.QueuedMessages[0].TaskID != "m2" || p.QueuedMessages[1].TaskID != "m1" {
		t.Errorf("expected timestamp order m2,m1; got %s,%s",
			p.QueuedMessages[0].TaskID, p.QueuedMessages[1].TaskID)
	}
	m := p.QueuedMessages[1]
	if m.Content != "do X" || m.ExecutionID != "ex1" || m.TriggerName != "nightly" {
		t.Errorf("unexpected message: %+v", m)
	}
	if len(m.Attachments) != 1 || m.Attachments[0] != "a.txt" {
		t.Errorf("attachments lost: %+v", m.Attachments)
	}
}

func TestDB_MarkProcessingAndDelete(t *testing.T) {
	database := openTestDB(t)
	database.SaveProject(&project.Project{ID: "p1", Name: "One"})
	database.SaveQueuedMessage("p1", &project.QueuedMessage{TaskID: "m1", Content: "x"})

	if err := database.MarkQueuedMessageProcessing("p1", "m1"); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	projects, _ := database.LoadProjects()
	if !projects[0].QueuedMessages[0].Processing {
		t.Error("expected processing flag persisted")
	}
	if err := database.MarkQueuedMessageProcessing("p1", "missing"); err == nil {
		t.Error("expected error for unknown message")
	}

	if err := database.DeleteQueuedMessage("p1", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	projects, _ = database.LoadProjects()
	if len(projects[0].QueuedMessages) != 0 {
		t.Error("expected message deleted")
	}
}

func TestDB_ActivityRoundTrip(t *testing.T) {
	database := openTestDB(t)

	e := &activity.Entry{
		ID:          "a1",
		Type:        activity.TriggerExecuted,
		Message:     "fired",
		ProjectID:   "p1",
		ExecutionID: "ex1",
		Metadata:    map[string]any{"status": "running"},
	}
	if err := database.SaveActivityEntry(e); err != nil {
		t.Fatalf("save entry: %v", err)
	}

	e.Type = activity.ExecutionSuccess
	e.Message = "done"
	if err := database.UpdateActivityEntry(e); err != nil {
		t.Fatalf("update entry: %v", err)
	}

	entries, err := database.LoadActivity(10)
	if err != nil {
		t.Fatalf("load activity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Type != activity.ExecutionSuccess || got.Message != "done" {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.Metadata["status"] != "running" {
		t.Errorf("metadata lost: %+v", got.Metadata)
	}

	if err := database.DeleteActivityForProject("p1"); err != nil {
		t.Fatalf("delete for project: %v", err)
	}
	entries, _ = database.LoadActivity(10)
	if len(entries) != 0 {
		t.Error("expected activity cleared for project")
	}
}

func TestDB_Settings(t *testing.T) {
	database := openTestDB(t)

	if v, err := database.GetSetting("missing"); err != nil || v != "" {
		t.Errorf("expected empty value for missing key, got %q err %v", v, err)
	}
	if err := database.SetSetting("poll_interval", "5s"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	if err := database.SetSetting("poll_interval", "10s"); err != nil {
		t.Fatalf("overwrite setting: %v", err)
	}
	if v, _ := database.GetSetting("poll_interval"); v != "10s" {
		t.Errorf("expected overwritten value, got %q", v)
	}
}
