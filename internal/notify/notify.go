// Package notify surfaces background task failures to the user. The desktop
// packaging layer wires an actual toast by dropping a hook script; without
// one, failures still land in the log.
package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Hook script names, looked up in the hooks directory.
const (
	HookTaskFailed = "task.failed"
)

// Notifier runs hook scripts for user-facing notifications.
type Notifier struct {
	hooksDir string
	logger   *log.Logger
}

// New creates a notifier. hooksDir is typically ~/.config/eigent/hooks.
func New(hooksDir string) *Notifier {
	return &Notifier{
		hooksDir: hooksDir,
		logger:   log.NewWithOptions(os.Stderr, log.Options{Prefix: "notify"}),
	}
}

// DefaultHooksDir returns the default hooks directory.
func DefaultHooksDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "eigent", "hooks")
}

// NotifyTaskFailed reports a failed background task. The hook is
// best-effort: a missing or failing script never propagates.
func (n *Notifier) NotifyTaskFailed(projectID, triggerName, message string) {
	n.logger.Warn("background task failed", "project", projectID, "trigger", triggerName, "error", message)
	n.runHook(HookTaskFailed,
		fmt.Sprintf("EIGENT_PROJECT=%s", projectID),
		fmt.Sprintf("EIGENT_TRIGGER=%s", triggerName),
		fmt.Sprintf("EIGENT_ERROR=%s", message),
	)
}

func (n *Notifier) runHook(name string, env ...string) {
	if n.hooksDir == "" {
		return
	}
	hookPath := filepath.Join(n.hooksDir, name)
	if _, err := os.Stat(hookPath); os.IsNotExist(err) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cmd := exec.CommandContext(ctx, hookPath)
		cmd.Env = append(os.Environ(), env...)
		if err := cmd.Run(); err != nil {
			n.logger.Debug("hook failed", "hook", name, "error", err)
		}
	}()
}
