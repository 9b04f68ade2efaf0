package db

import (
	"encoding/json"
	"fmt"

	"github.com/eigent-ai/eigentd/internal/activity"
)

// SaveActivityEntry inserts an activity log row and prunes rows beyond the
// in-memory retention cap.
func (db *DB) SaveActivityEntry(e *activity.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO activity_logs (id, type, message, timestamp, project_id, trigger_id, trigger_name, execution_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			message = excluded.message,
			metadata = excluded.metadata`,
		e.ID, e.Type, e.Message, e.Timestamp, e.ProjectID, e.TriggerID, e.TriggerName, e.ExecutionID, string(metadata))
	if err != nil {
		return fmt.Errorf("save activity entry %s: %w", e.ID, err)
	}

	// Keep the table aligned with the in-memory cap.
	_, err = db.Exec(`
		DELETE FROM activity_logs WHERE id NOT IN (
			SELECT id FROM activity_logs ORDER BY timestamp DESC LIMIT ?
		)`, activity.MaxEntries)
	if err != nil {
		return fmt.Errorf("prune activity log: %w", err)
	}
	return nil
}

// UpdateActivityEntry rewrites a modified activity log row.
func (db *DB) UpdateActivityEntry(e *activity.Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = db.Exec(`
		UPDATE activity_logs
		SET type = ?, message = ?, project_id = ?, trigger_id = ?, trigger_name = ?, metadata = ?
		WHERE id = ?`,
		e.Type, e.Message, e.ProjectID, e.TriggerID, e.TriggerName, string(metadata), e.ID)
	if err != nil {
		return fmt.Errorf("update activity entry %s: %w", e.ID, err)
	}
	return nil
}

// DeleteActivityForProject removes all activity rows for a project.
func (db *DB) DeleteActivityForProject(projectID string) error {
	_, err := db.Exec(`DELETE FROM activity_logs WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete activity for project %s: %w", projectID, err)
	}
	return nil
}

// LoadActivity reads the most recent activity rows, newest first, for
// seeding the in-memory log on startup.
func (db *DB) LoadActivity(limit int) ([]*activity.Entry, error) {
	if limit <= 0 || limit > activity.MaxEntries {
		limit = activity.MaxEntries
	}
	rows, err := db.Query(`
		SELECT id, type, message, timestamp, project_id, trigger_id, trigger_name, execution_id, metadata
		FROM activity_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	defer rows.Close()

	var entries []*activity.Entry
	for rows.Next() {
		e := &activity.Entry{}
		var metadata string
		if err := rows.Scan(&e.ID, &e.Type, &e.Message, &e.Timestamp,
			&e.ProjectID, &e.TriggerID, &e.TriggerName, &e.ExecutionID, &metadata); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		if metadata != "" && metadata != "{}" && metadata != "null" {
			json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return entries, nil
}
