// channels.go implements the Channel, ChannelUser, AccessPolicy and
// PairingCode repositories.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is the generic miss for channel/user/policy lookups.
var ErrNotFound = errors.New("record not found")

// UpsertChannel creates or updates a configured channel row.
func (s *Store) UpsertChannel(c *Channel) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = ChannelDisconnected
	}
	_, err := s.db.Exec(`
		INSERT INTO channels (id, type, enabled, status, bot_id, bot_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type, enabled = excluded.enabled,
			bot_id = excluded.bot_id, bot_name = excluded.bot_name,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, boolInt(c.Enabled), string(c.Status), c.BotID, c.BotName,
		fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// SetChannelStatus updates a channel's live connection status.
func (s *Store) SetChannelStatus(id string, status ChannelStatus) error {
	_, err := s.db.Exec(`
		UPDATE channels SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set channel status: %w", err)
	}
	return nil
}

// FindChannel looks up a channel by ID.
func (s *Store) FindChannel(id string) (*Channel, error) {
	var (
		c                    Channel
		enabled              int
		status               string
		createdAt, updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT id, type, enabled, status, bot_id, bot_name, created_at, updated_at
		FROM channels WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &enabled, &status, &c.BotID, &c.BotName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find channel: %w", err)
	}
	c.Enabled = enabled != 0
	c.Status = ChannelStatus(status)
	c.CreatedAt, c.UpdatedAt = parseTime(createdAt), parseTime(updatedAt)
	return &c, nil
}

// GetOrCreateUser returns the ChannelUser for a platform identity, creating
// an unpaired row on first contact, and touches last_seen.
func (s *Store) GetOrCreateUser(channelID, platformID, displayName string) (*ChannelUser, error) {
	now := time.Now()
	u, err := s.findUser(channelID, platformID)
	if err == nil {
		_, uerr := s.db.Exec(`
			UPDATE channel_users SET last_seen_at = ?, display_name = ? WHERE id = ?`,
			fmtTime(now), pickName(displayName, u.DisplayName), u.ID)
		if uerr != nil {
			return nil, fmt.Errorf("touch user: %w", uerr)
		}
		u.LastSeenAt = now
		if displayName != "" {
			u.DisplayName = displayName
		}
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &ChannelUser{
		ID:          uuid.New().String(),
		ChannelID:   channelID,
		PlatformID:  platformID,
		DisplayName: displayName,
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	_, err = s.db.Exec(`
		INSERT INTO channel_users (id, channel_id, platform_id, display_name, paired, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		u.ID, channelID, platformID, displayName, fmtTime(now), fmtTime(now))
	if err != nil {
		if existing, ferr := s.findUser(channelID, platformID); ferr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// SetUserPaired flips a user's pairing flag.
func (s *Store) SetUserPaired(userID string, paired bool) error {
	_, err := s.db.Exec("UPDATE channel_users SET paired = ? WHERE id = ?", boolInt(paired), userID)
	if err != nil {
		return fmt.Errorf("set user paired: %w", err)
	}
	return nil
}

func (s *Store) findUser(channelID, platformID string) (*ChannelUser, error) {
	var (
		u                   ChannelUser
		paired              int
		lastSeen, createdAt string
	)
	err := s.db.QueryRow(`
		SELECT id, channel_id, platform_id, display_name, paired, last_seen_at, created_at
		FROM channel_users WHERE channel_id = ? AND platform_id = ?`, channelID, platformID).
		Scan(&u.ID, &u.ChannelID, &u.PlatformID, &u.DisplayName, &paired, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Paired = paired != 0
	u.LastSeenAt, u.CreatedAt = parseTime(lastSeen), parseTime(createdAt)
	return &u, nil
}

// FindPolicy returns the policy row for (channel, context), or ErrNotFound.
func (s *Store) FindPolicy(channelID string, ctxType ContextType) (*AccessPolicy, error) {
	var (
		p         AccessPolicy
		pairing   int
		updatedAt string
	)
	err := s.db.QueryRow(`
		SELECT channel_id, context_type, require_pairing, tool_restrictions, updated_at
		FROM access_policies WHERE channel_id = ? AND context_type = ?`,
		channelID, string(ctxType)).
		Scan(&p.ChannelID, (*string)(&p.ContextType), &pairing, &p.RawRestrictions, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find policy: %w", err)
	}
	p.RequirePairing = pairing != 0
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// SavePolicy inserts or replaces a policy row.
func (s *Store) SavePolicy(p *AccessPolicy) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO access_policies (channel_id, context_type, require_pairing, tool_restrictions, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ChannelID, string(p.ContextType), boolInt(p.RequirePairing),
		p.RawRestrictions, fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// CreatePairingCode stores a hashed pairing code.
func (s *Store) CreatePairingCode(pc *PairingCode) error {
	if pc.ID == "" {
		pc.ID = uuid.New().String()
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO pairing_codes (id, channel_id, user_id, code_hash, salt, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pc.ID, pc.ChannelID, pc.UserID, pc.CodeHash, pc.Salt,
		fmtTime(pc.ExpiresAt), fmtTime(pc.CreatedAt))
	if err != nil {
		return fmt.Errorf("create pairing code: %w", err)
	}
	return nil
}

// PairingCodesForChannel returns unexpired codes for a channel, newest first.
func (s *Store) PairingCodesForChannel(channelID string) ([]*PairingCode, error) {
	rows, err := s.db.Query(`
		SELECT id, channel_id, user_id, code_hash, salt, expires_at, created_at
		FROM pairing_codes WHERE channel_id = ? AND expires_at > ?
		ORDER BY created_at DESC`, channelID, fmtTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("query pairing codes: %w", err)
	}
	defer rows.Close()

	var out []*PairingCode
	for rows.Next() {
		var (
			pc                   PairingCode
			expiresAt, createdAt string
		)
		if err := rows.Scan(&pc.ID, &pc.ChannelID, &pc.UserID, &pc.CodeHash,
			&pc.Salt, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pairing code: %w", err)
		}
		pc.ExpiresAt, pc.CreatedAt = parseTime(expiresAt), parseTime(createdAt)
		out = append(out, &pc)
	}
	return out, rows.Err()
}

// DeletePairingCode removes a code after redemption or expiry.
func (s *Store) DeletePairingCode(id string) error {
	if _, err := s.db.Exec("DELETE FROM pairing_codes WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete pairing code: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func pickName(fresh, current string) string {
	if fresh != "" {
		return fresh
	}
	return current
}
