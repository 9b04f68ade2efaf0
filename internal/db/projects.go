package db

import (
	"encoding/json"
	"fmt"

	"github.com/eigent-ai/eigentd/internal/project"
)

// SaveProject upserts a project row.
func (db *DB) SaveProject(p *project.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		p.ID, p.Name)
	if err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// SaveQueuedMessage upserts a queued message row.
func (db *DB) SaveQueuedMessage(projectID string, m *project.QueuedMessage) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO queued_messages
			(project_id, task_id, content, attachments, execution_id, trigger_task_id, trigger_id, trigger_name, processing, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, task_id) DO UPDATE SET
			content = excluded.content,
			attachments = excluded.attachments,
			execution_id = excluded.execution_id,
			trigger_task_id = excluded.trigger_task_id,
			trigger_id = excluded.trigger_id,
			trigger_name = excluded.trigger_name,
			processing = excluded.processing,
			timestamp = excluded.timestamp`,
		projectID, m.TaskID, m.Content, string(attachments), m.ExecutionID,
		m.TriggerTaskID, m.TriggerID, m.TriggerName, boolToInt(m.Processing), m.Timestamp)
	if err != nil {
		return fmt.Errorf("save queued message %s/%s: %w", projectID, m.TaskID, err)
	}
	return nil
}

// MarkQueuedMessageProcessing sets the processing flag on a message row.
func (db *DB) MarkQueuedMessageProcessing(projectID, taskID string) error {
	res, err := db.Exec(`UPDATE queued_messages SET processing = 1 WHERE project_id = ? AND task_id = ?`,
		projectID, taskID)
	if err != nil {
		return fmt.Errorf("mark processing %s/%s: %w", projectID, taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queued message %s/%s not found", projectID, taskID)
	}
	return nil
}

// DeleteQueuedMessage removes a message row.
func (db *DB) DeleteQueuedMessage(projectID, taskID string) error {
	_, err := db.Exec(`DELETE FROM queued_messages WHERE project_id = ? AND task_id = ?`,
		projectID, taskID)
	if err != nil {
		return fmt.Errorf("delete queued message %s/%s: %w", projectID, taskID, err)
	}
	return nil
}

// LoadProjects reads all projects with their queued messages, in creation
// order, for seeding the in-memory store on startup.
func (db *DB) LoadProjects() ([]*project.Project, error) {
	rows, err := db.Query(`SELECT id, name FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	byID := make(map[string]*project.Project)
	for rows.Next() {
		p := &project.Project{}
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}

	msgRows, err := db.Query(`
		SELECT project_id, task_id, content, attachments, execution_id, trigger_task_id, trigger_id, trigger_name, processing, timestamp
		FROM queued_messages ORDER BY timestamp, task_id`)
	if err != nil {
		return nil, fmt.Errorf("load queued messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var projectID, attachments string
		var processing int
		m := &project.QueuedMessage{}
		if err := msgRows.Scan(&projectID, &m.TaskID, &m.Content, &attachments,
			&m.ExecutionID, &m.TriggerTaskID, &m.TriggerID, &m.TriggerName,
			&processing, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan queued message: %w", err)
		}
		if attachments != "" {
			json.Unmarshal([]byte(attachments), &m.Attachments)
		}
		m.Processing = processing != 0
		if p, ok := byID[projectID]; ok {
			p.QueuedMessages = append(p.QueuedMessages, m)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued messages: %w", err)
	}

	return projects, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
