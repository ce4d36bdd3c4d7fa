// sessions.go implements the ChannelSession repository: one row per
// (channel, chat), created lazily, never hard-deleted by the router.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session row matches.
var ErrSessionNotFound = errors.New("session not found")

const timeFormat = time.RFC3339

func fmtTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

// GetOrCreateSession returns the session for (channelID, chatID), creating
// it with the given default workspace when absent.
func (s *Store) GetOrCreateSession(channelID, chatID, defaultWorkspaceID string) (*Session, error) {
	sess, err := s.FindSessionByChat(channelID, chatID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now()
	sess = &Session{
		ID:          uuid.New().String(),
		ChannelID:   channelID,
		ChatID:      chatID,
		WorkspaceID: defaultWorkspaceID,
		Context:     SessionContext{Version: 1},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ctxJSON, _ := json.Marshal(sess.Context)
	_, err = s.db.Exec(`
		INSERT INTO channel_sessions (id, channel_id, chat_id, workspace_id, task_id, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?)`,
		sess.ID, channelID, chatID, defaultWorkspaceID, string(ctxJSON), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		// Lost a create race: another handler inserted first. The unique
		// index makes the existing row authoritative.
		if existing, ferr := s.FindSessionByChat(channelID, chatID); ferr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "channel", channelID, "chat_id", chatID, "session", sess.ID)
	return sess, nil
}

// FindSessionByChat looks up the session for one (channel, chat) pair.
func (s *Store) FindSessionByChat(channelID, chatID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, chat_id, workspace_id, task_id, context, created_at, updated_at
		FROM channel_sessions WHERE channel_id = ? AND chat_id = ?`, channelID, chatID)
	return scanSession(row)
}

// FindSessionByID looks up a session by primary key.
func (s *Store) FindSessionByID(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, chat_id, workspace_id, task_id, context, created_at, updated_at
		FROM channel_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ActiveTaskSessions returns every session on the given channel whose linked
// task is in a non-terminal state. This is the recovery query: routes are
// rebuilt from these rows on adapter reconnect.
func (s *Store) ActiveTaskSessions(channelID string) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT cs.id, cs.channel_id, cs.chat_id, cs.workspace_id, cs.task_id, cs.context, cs.created_at, cs.updated_at
		FROM channel_sessions cs
		JOIN tasks t ON t.id = cs.task_id
		WHERE cs.channel_id = ? AND cs.task_id != ''
		  AND t.status NOT IN ('completed', 'failed', 'cancelled')`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query active task sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SetSessionWorkspace binds a workspace to the session.
func (s *Store) SetSessionWorkspace(sessionID, workspaceID string) error {
	return s.updateSessionField(sessionID, "workspace_id", workspaceID)
}

// LinkSessionTask links the session to a task.
func (s *Store) LinkSessionTask(sessionID, taskID string) error {
	return s.updateSessionField(sessionID, "task_id", taskID)
}

// UnlinkSessionTask clears the session's task link, but only if the session
// still points at the given task. A session that has moved on keeps its new
// link.
func (s *Store) UnlinkSessionTask(sessionID, taskID string) error {
	res, err := s.db.Exec(`
		UPDATE channel_sessions SET task_id = '', updated_at = ?
		WHERE id = ? AND task_id = ?`, fmtTime(time.Now()), sessionID, taskID)
	if err != nil {
		return fmt.Errorf("unlink session task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("unlink skipped, session moved on", "session", sessionID, "task", taskID)
	}
	return nil
}

// UpdateSessionContext applies a shallow-merge patch to the session context.
// Unspecified fields are preserved; Clear* markers delete a field.
func (s *Store) UpdateSessionContext(sessionID string, patch ContextPatch) error {
	sess, err := s.FindSessionByID(sessionID)
	if err != nil {
		return err
	}

	ctx := sess.Context
	if ctx.Version == 0 {
		ctx.Version = 1
	}
	if patch.LastSender != nil {
		ctx.LastSender = patch.LastSender
	}
	if patch.Provider != nil {
		ctx.Provider = *patch.Provider
	}
	if patch.Model != nil {
		ctx.Model = *patch.Model
	}
	if patch.ClearFeedback {
		ctx.PendingFeedback = nil
	} else if patch.PendingFeedback != nil {
		ctx.PendingFeedback = patch.PendingFeedback
	}
	if patch.ClearSelection {
		ctx.PendingSelection = nil
	} else if patch.PendingSelection != nil {
		ctx.PendingSelection = patch.PendingSelection
	}

	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE channel_sessions SET context = ?, updated_at = ? WHERE id = ?`,
		string(ctxJSON), fmtTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session context: %w", err)
	}
	return nil
}

func (s *Store) updateSessionField(sessionID, column, value string) error {
	res, err := s.db.Exec(
		fmt.Sprintf("UPDATE channel_sessions SET %s = ?, updated_at = ? WHERE id = ?", column),
		value, fmtTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess      Session
		ctxJSON   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&sess.ID, &sess.ChannelID, &sess.ChatID, &sess.WorkspaceID,
		&sess.TaskID, &ctxJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	// A corrupt context blob degrades to an empty context rather than
	// blocking the chat; sub-flows are re-requested on demand.
	if uerr := json.Unmarshal([]byte(ctxJSON), &sess.Context); uerr != nil {
		sess.Context = SessionContext{Version: 1}
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}
