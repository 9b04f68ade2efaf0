package notify

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestNotifier_RunsHookWithEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook scripts are POSIX shell")
	}

	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	script := "#!/bin/sh\necho \"$EIGENT_PROJECT $EIGENT_TRIGGER $EIGENT_ERROR\" > " + out + "\n"
	if err := os.WriteFile(filepath.Join(dir, HookTaskFailed), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}

	n := New(dir)
	n.NotifyTaskFailed("p1", "nightly", "boom")

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := os.ReadFile(out)
		if err == nil {
			if got := strings.TrimSpace(string(data)); got != "p1 nightly boom" {
				t.Errorf("unexpected hook output %q", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("hook never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotifier_MissingHookIsNoop(t *testing.T) {
	n := New(t.TempDir())
	// Must not panic or block.
	n.NotifyTaskFailed("p1", "nightly", "boom")

	empty := New("")
	empty.NotifyTaskFailed("p1", "nightly", "boom")
}
