// eigent is the operator CLI for the eigentd daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var daemonURL string

func main() {
	root := &cobra.Command{
		Use:          "eigent",
		Short:        "Inspect and drive the eigentd coordinator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&daemonURL, "daemon", "http://localhost:7833", "eigentd base URL")

	root.AddCommand(statusCmd())
	root.AddCommand(projectsCmd())
	root.AddCommand(activityCmd())
	root.AddCommand(enqueueCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status struct {
				ActiveTasks []struct {
					ProjectID   string `json:"project_id"`
					ChatTaskID  string `json:"chat_task_id"`
					ExecutionID string `json:"execution_id"`
				} `json:"active_tasks"`
				Projects    int `json:"projects"`
				QueuedTotal int `json:"queued_total"`
			}
			if err := getJSON("/api/status", &status); err != nil {
				return err
			}
			fmt.Printf("projects: %d  queued: %d  active: %d\n",
				status.Projects, status.QueuedTotal, len(status.ActiveTasks))
			for _, at := range status.ActiveTasks {
				fmt.Printf("  %s  project=%s  task=%s\n", at.ExecutionID, at.ProjectID, at.ChatTaskID)
			}
			return nil
		},
	}
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects and queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				Queued     int    `json:"queued"`
				Processing int    `json:"processing"`
			}
			if err := getJSON("/api/projects", &projects); err != nil {
				return err
			}
			for _, p := range projects {
				fmt.Printf("%s  %s  queued=%d processing=%d\n", p.ID, p.Name, p.Queued, p.Processing)
			}
			return nil
		},
	}
}

func activityCmd() *cobra.Command {
	var projectID string
	var count int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/activity?count=%d", count)
			if projectID != "" {
				path += "&project=" + projectID
			}
			var entries []struct {
				Type        string    `json:"type"`
				Message     string    `json:"message"`
				Timestamp   time.Time `json:"timestamp"`
				ExecutionID string    `json:"execution_id"`
			}
			if err := getJSON(path, &entries); err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-19s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Filter by project id")
	cmd.Flags().IntVar(&count, "count", 20, "Number of entries")
	return cmd
}

func enqueueCmd() *cobra.Command {
	var projectID, content, executionID, triggerName string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Push a trigger message into a project queue (testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"content":      content,
				"execution_id": executionID,
				"trigger_name": triggerName,
			}
			var resp map[string]string
			if err := postJSON("/api/projects/"+projectID+"/queue", body, &resp); err != nil {
				return err
			}
			fmt.Printf("queued task %s\n", resp["task_id"])
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id (required)")
	cmd.Flags().StringVar(&content, "content", "", "Task prompt (required)")
	cmd.Flags().StringVar(&executionID, "execution-id", "", "Trigger execution id")
	cmd.Flags().StringVar(&triggerName, "trigger-name", "", "Trigger display name")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("content")
	return cmd
}

func getJSON(path string, out any) error {
	resp, err := http.Get(strings.TrimRight(daemonURL, "/") + path)
	if err != nil {
		return fmt.Errorf("is eigentd running? %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(strings.TrimRight(daemonURL, "/")+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("is eigentd running? %w", err)
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
