// storage.go persists jobs in the shared SQLite database (jobs table).
package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

const timeFormat = time.RFC3339

// Storage reads and writes the jobs table.
type Storage struct {
	db *sql.DB
}

// NewStorage wraps the shared database handle.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// Save inserts or replaces one job row.
func (st *Storage) Save(job *Job) error {
	var lastRun any
	if job.LastRunAt != nil {
		lastRun = job.LastRunAt.UTC().Format(timeFormat)
	}
	_, err := st.db.Exec(`
		INSERT OR REPLACE INTO jobs
			(id, name, schedule, type, command, channel, chat_id, enabled, created_by, created_at, last_run_at, last_error, run_count)
		VALUES (?, ?, ?, 'cron', ?, ?, ?, ?, '', ?, ?, ?, ?)`,
		job.ID, job.Name, job.Schedule, job.Prompt, job.Channel, job.ChatID,
		boolInt(job.Enabled), job.CreatedAt.UTC().Format(timeFormat),
		lastRun, job.LastError, job.RunCount)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Delete removes one job row.
func (st *Storage) Delete(id string) error {
	if _, err := st.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// LoadAll reads every persisted job.
func (st *Storage) LoadAll() ([]*Job, error) {
	rows, err := st.db.Query(`
		SELECT id, name, schedule, command, channel, chat_id, enabled, created_at, last_run_at, last_error, run_count
		FROM jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var (
			job       Job
			enabled   int
			createdAt string
			lastRun   sql.NullString
		)
		if err := rows.Scan(&job.ID, &job.Name, &job.Schedule, &job.Prompt,
			&job.Channel, &job.ChatID, &enabled, &createdAt, &lastRun,
			&job.LastError, &job.RunCount); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Enabled = enabled != 0
		job.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		if lastRun.Valid && lastRun.String != "" {
			if t, perr := time.Parse(timeFormat, lastRun.String); perr == nil {
				job.LastRunAt = &t
			}
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
