// Package engine defines the contract between the gateway and the external
// agent engine that actually runs tasks. The gateway starts, follows up on
// and cancels tasks here, and receives asynchronous task events back through
// a registered handler. The engine owns task status; the gateway never
// advances it.
package engine

import (
	"context"
	"fmt"
	"time"
)

// EventType identifies an asynchronous engine event.
type EventType string

const (
	// EventPartial carries incremental streamed output for a running task.
	EventPartial EventType = "partial"

	// EventCompleted carries the final output of a finished task.
	EventCompleted EventType = "completed"

	// EventFailed signals the task failed; Message holds the error text.
	EventFailed EventType = "failed"

	// EventCancelled signals the task was cancelled.
	EventCancelled EventType = "cancelled"

	// EventApprovalRequest asks the originating chat to approve an action.
	EventApprovalRequest EventType = "approval_request"

	// EventArtifact announces a file produced by the task.
	EventArtifact EventType = "artifact"
)

// Event is one asynchronous notification from the engine.
type Event struct {
	Type   EventType
	TaskID string

	// Message is the partial/final text, failure reason, or approval prompt.
	Message string

	// ApprovalID identifies the approval being requested (EventApprovalRequest).
	ApprovalID string

	// ArtifactPath is the produced file's path (EventArtifact).
	ArtifactPath string

	Timestamp time.Time
}

// Handler receives engine events. Registered once by the gateway.
type Handler func(ev Event)

// ApprovalOutcome is the engine's answer to RespondToApproval.
type ApprovalOutcome string

const (
	ApprovalHandled    ApprovalOutcome = "handled"
	ApprovalDuplicate  ApprovalOutcome = "duplicate"
	ApprovalNotFound   ApprovalOutcome = "not_found"
	ApprovalInProgress ApprovalOutcome = "in_progress"
)

// StartRequest describes a new task for the engine.
type StartRequest struct {
	TaskID      string
	WorkspaceID string
	Title       string
	Prompt      string

	// ParentTaskID links sub-agent tasks to their root conversation.
	ParentTaskID string

	// Provider / Model override the engine defaults when non-empty.
	Provider string
	Model    string

	// Config carries the policy decided by the gateway at intake time.
	Config AgentConfig
}

// AgentConfig is the policy sub-record attached to every task. The engine
// enforces the same restrictions the gateway decided at the front door.
type AgentConfig struct {
	// GatewayContext records whether the task came from a DM or a group.
	GatewayContext ContextKind `json:"gateway_context"`

	// ToolRestrictions lists denied tool names and group tags. The "*"
	// sentinel denies every tool.
	ToolRestrictions []string `json:"tool_restrictions,omitempty"`
}

// ContextKind is the conversational context a task was created from.
type ContextKind string

const (
	ContextPrivate ContextKind = "private"
	ContextGroup   ContextKind = "group"
)

// QueueStatus summarizes the engine's task queue.
type QueueStatus struct {
	Pending   int
	Executing int
}

// Engine is the external task executor the gateway orchestrates around.
type Engine interface {
	// StartTask begins executing a new task.
	StartTask(ctx context.Context, req StartRequest) error

	// SendFollowUp delivers an additional user message to a running task.
	SendFollowUp(ctx context.Context, taskID, message string) error

	// CancelTask requests cancellation of a task.
	CancelTask(ctx context.Context, taskID string) error

	// RespondToApproval resolves a pending approval on the engine side.
	RespondToApproval(ctx context.Context, approvalID string, approved bool) (ApprovalOutcome, error)

	// RegisterArtifact records a file as a task artifact.
	RegisterArtifact(ctx context.Context, taskID, path string) error

	// AppendLog attaches a structured log event to a task. Best-effort.
	AppendLog(ctx context.Context, taskID, event string, fields map[string]any) error

	// QueueStatus reports the engine queue depth.
	QueueStatus(ctx context.Context) (QueueStatus, error)

	// ClearStuckTasks aborts tasks wedged in non-terminal states and
	// returns how many were cleared.
	ClearStuckTasks(ctx context.Context) (int, error)

	// SetHandler registers the gateway's event handler. Must be called
	// before StartTask.
	SetHandler(h Handler)
}

// Transcriber converts an audio attachment into text. The backing service
// is external; implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, path, mimeType string) (string, error)
}

// ErrUnavailable is returned by gateway operations when no engine is
// configured.
var ErrUnavailable = fmt.Errorf("agent engine is not available")
