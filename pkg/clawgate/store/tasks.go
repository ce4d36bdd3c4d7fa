// tasks.go implements the Task and Artifact repositories. The gateway
// creates tasks; only engine events move their status.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
)

// ErrTaskNotFound is returned when no task row matches.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a new task in pending status.
func (s *Store) CreateTask(t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	cfgJSON, err := json.Marshal(t.AgentConfig)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, workspace_id, title, prompt, status, parent_task_id, agent_config, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		t.ID, t.WorkspaceID, t.Title, t.Prompt, string(t.Status), t.ParentTaskID,
		string(cfgJSON), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FindTask looks up a task by ID.
func (s *Store) FindTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, workspace_id, title, prompt, status, parent_task_id, agent_config, error, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// DeleteTask removes a task row. Used only to roll back a task whose engine
// start failed before it ever ran.
func (s *Store) DeleteTask(id string) error {
	if _, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// SetTaskStatus records an engine-driven status transition.
func (s *Store) SetTaskStatus(id string, status TaskStatus, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// RecentTasks lists the latest tasks for a workspace, newest first.
func (s *Store) RecentTasks(workspaceID string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT id, workspace_id, title, prompt, status, parent_task_id, agent_config, error, created_at, updated_at
		FROM tasks WHERE workspace_id = ?
		ORDER BY created_at DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateArtifact records a file produced by a task.
func (s *Store) CreateArtifact(a *Artifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, task_id, path, mime_type, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Path, a.MimeType, fmtTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// TaskArtifacts lists a task's artifacts in creation order.
func (s *Store) TaskArtifacts(taskID string) ([]*Artifact, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, path, mime_type, created_at
		FROM artifacts WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var (
			a         Artifact
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Path, &a.MimeType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t         Task
		status    string
		cfgJSON   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&t.ID, &t.WorkspaceID, &t.Title, &t.Prompt, &status,
		&t.ParentTaskID, &cfgJSON, &t.Error, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = TaskStatus(status)
	if uerr := json.Unmarshal([]byte(cfgJSON), &t.AgentConfig); uerr != nil {
		// Fail closed: a task whose policy record is unreadable must not
		// regain tool access.
		t.AgentConfig = engine.AgentConfig{ToolRestrictions: []string{"*"}}
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
