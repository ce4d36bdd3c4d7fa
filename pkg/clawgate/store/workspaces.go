// workspaces.go implements the Workspace repository.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWorkspaceNotFound is returned when no workspace row matches.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// CreateWorkspace inserts a workspace record.
func (s *Store) CreateWorkspace(w *Workspace) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO workspaces (id, name, path, temporary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Path, boolInt(w.Temporary), fmtTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// FindWorkspace looks up a workspace by ID.
func (s *Store) FindWorkspace(id string) (*Workspace, error) {
	row := s.db.QueryRow(`
		SELECT id, name, path, temporary, created_at FROM workspaces WHERE id = ?`, id)
	return scanWorkspace(row)
}

// FindWorkspaceByName looks up a workspace by its display name.
func (s *Store) FindWorkspaceByName(name string) (*Workspace, error) {
	row := s.db.QueryRow(`
		SELECT id, name, path, temporary, created_at FROM workspaces WHERE name = ?`, name)
	return scanWorkspace(row)
}

// ListWorkspaces returns all workspaces, oldest first.
func (s *Store) ListWorkspaces() ([]*Workspace, error) {
	rows, err := s.db.Query(`
		SELECT id, name, path, temporary, created_at FROM workspaces ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorkspace removes a workspace record (sessions keep their binding
// until rebound; tasks keep their history).
func (s *Store) DeleteWorkspace(id string) error {
	res, err := s.db.Exec("DELETE FROM workspaces WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkspaceNotFound
	}
	return nil
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	var (
		w         Workspace
		temp      int
		createdAt string
	)
	err := row.Scan(&w.ID, &w.Name, &w.Path, &temp, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	w.Temporary = temp != 0
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}
