// messages.go implements the append-only message log. Rows are write-once;
// the transcript formatter reads them back for /digest and /followups.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// AppendMessage logs one message. Write failures are the caller's problem to
// swallow: an audit miss must never block a user-visible reply.
func (s *Store) AppendMessage(m *Message) error {
	attJSON, _ := json.Marshal(m.Attachments)
	if m.Attachments == nil {
		attJSON = []byte("[]")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO channel_messages (session_id, direction, sender, sender_name, content, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, string(m.Direction), m.Sender, m.SenderName, m.Content,
		string(attJSON), fmtTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// RecentMessages returns up to limit messages for a session, newest last.
// A zero since means no lower time bound.
func (s *Store) RecentMessages(sessionID string, since time.Time, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	// Fetch newest-first with the limit, then reverse to chronological.
	rows, err := s.db.Query(`
		SELECT id, session_id, direction, sender, sender_name, content, attachments, created_at
		FROM channel_messages
		WHERE session_id = ? AND created_at >= ?
		ORDER BY id DESC LIMIT ?`,
		sessionID, fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m         Message
			dir       string
			attJSON   string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &dir, &m.Sender, &m.SenderName,
			&m.Content, &attJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Direction = Direction(dir)
		_ = json.Unmarshal([]byte(attJSON), &m.Attachments)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
