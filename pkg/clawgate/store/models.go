// models.go declares the persisted records. Timestamps are stored as RFC3339
// UTC strings, matching the rest of the database.
package store

import (
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
)

// ChannelStatus is the live connection state of a configured channel.
type ChannelStatus string

const (
	ChannelConnected    ChannelStatus = "connected"
	ChannelDisconnected ChannelStatus = "disconnected"
	ChannelErrored      ChannelStatus = "error"
)

// Channel is one configured chat-platform connection. Created by
// configuration; the router only updates status on connect/disconnect.
type Channel struct {
	ID        string
	Type      string
	Enabled   bool
	Status    ChannelStatus
	BotID     string
	BotName   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChannelUser is a platform-specific sender identity.
type ChannelUser struct {
	ID          string
	ChannelID   string
	PlatformID  string
	DisplayName string
	Paired      bool
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

// Session is the durable conversation state for one (channel, chat) pair.
// Group chats share a single session across all members.
type Session struct {
	ID          string
	ChannelID   string
	ChatID      string
	WorkspaceID string
	TaskID      string
	Context     SessionContext
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionContext is the structured side-context carried by a session. It is
// shallow-merged on update: unspecified fields are preserved, explicit clear
// markers delete a field.
type SessionContext struct {
	Version int `json:"version"`

	// LastSender snapshots the most recent accepted sender.
	LastSender *SenderSnapshot `json:"last_sender,omitempty"`

	// Provider / Model override the engine defaults for this chat.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// PendingFeedback marks that the next plain message is a feedback reply.
	PendingFeedback *PendingFeedback `json:"pending_feedback,omitempty"`

	// PendingSelection marks that the next plain message is a numeric pick.
	PendingSelection *PendingSelection `json:"pending_selection,omitempty"`
}

// SenderSnapshot records who last spoke in the chat.
type SenderSnapshot struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// FeedbackKind is the follow-up action a feedback sub-flow captures text for.
type FeedbackKind string

const (
	FeedbackReject FeedbackKind = "reject"
	FeedbackEdit   FeedbackKind = "edit"
)

// PendingFeedback is a feedback-capture sub-flow marker.
type PendingFeedback struct {
	TaskID    string       `json:"task_id"`
	Kind      FeedbackKind `json:"kind"`
	Requester string       `json:"requester"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// SelectionKind is what a pending numeric selection picks.
type SelectionKind string

const (
	SelectWorkspace SelectionKind = "workspace"
	SelectProvider  SelectionKind = "provider"
	SelectModel     SelectionKind = "model"
)

// PendingSelection is a numeric-selection sub-flow marker.
type PendingSelection struct {
	Kind      SelectionKind `json:"kind"`
	Options   []string      `json:"options"`
	Requester string        `json:"requester"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// ContextPatch is a shallow-merge update for SessionContext. Nil pointer =
// keep the current value; the matching Clear flag deletes it.
type ContextPatch struct {
	LastSender       *SenderSnapshot
	Provider         *string
	Model            *string
	PendingFeedback  *PendingFeedback
	ClearFeedback    bool
	PendingSelection *PendingSelection
	ClearSelection   bool
}

// Direction of a logged message.
type Direction string

const (
	DirIncoming      Direction = "incoming"
	DirOutgoing      Direction = "outgoing"
	DirOutgoingLocal Direction = "outgoing_local"
)

// Message is one immutable transcript log entry.
type Message struct {
	ID          int64
	SessionID   string
	Direction   Direction
	Sender      string
	SenderName  string
	Content     string
	Attachments []string
	CreatedAt   time.Time
}

// Workspace is a filesystem-backed project context.
type Workspace struct {
	ID        string
	Name      string
	Path      string
	Temporary bool
	CreatedAt time.Time
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskPlanning  TaskStatus = "planning"
	TaskExecuting TaskStatus = "executing"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Task is one unit of agent work.
type Task struct {
	ID           string
	WorkspaceID  string
	Title        string
	Prompt       string
	Status       TaskStatus
	ParentTaskID string
	AgentConfig  engine.AgentConfig
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Artifact is a file produced by a task.
type Artifact struct {
	ID        string
	TaskID    string
	Path      string
	MimeType  string
	CreatedAt time.Time
}

// ContextType distinguishes direct-message from group policy rows.
type ContextType string

const (
	ContextDM    ContextType = "dm"
	ContextGroup ContextType = "group"
)

// AccessPolicy is one persisted (channel, context) policy row.
// ToolRestrictions is kept as the raw serialized value so the policy layer
// can fail closed on corrupt rows instead of losing that information here.
type AccessPolicy struct {
	ChannelID       string
	ContextType     ContextType
	RequirePairing  bool
	RawRestrictions string
	UpdatedAt       time.Time
}

// PairingCode is a single-use pairing secret, stored hashed.
type PairingCode struct {
	ID        string
	ChannelID string
	UserID    string
	CodeHash  string
	Salt      string
	ExpiresAt time.Time
	CreatedAt time.Time
}
