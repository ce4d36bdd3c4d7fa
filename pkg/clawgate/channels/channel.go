// Package channels defines the interfaces and types for ClawGate chat
// adapters. Each platform (Telegram, Discord, WhatsApp, console) implements
// the Adapter interface to receive and send messages in a unified way.
// Optional capabilities (media, edits, draft streams, callback queries) are
// modeled as extension interfaces asserted at the call site.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
)

// Adapter defines the interface that every chat platform connection must
// implement.
type Adapter interface {
	// Name returns the adapter identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// SendText sends a text message and returns the platform message ID.
	SendText(ctx context.Context, chatID string, msg *OutgoingMessage) (string, error)

	// Receive returns a Go channel that emits incoming messages. The
	// stream is closed after Disconnect.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the adapter is connected.
	IsConnected() bool

	// Health returns the adapter health status.
	Health() HealthStatus
}

// MediaAdapter extends Adapter with photo/document sending.
type MediaAdapter interface {
	Adapter

	// SendPhoto sends an image with an optional caption.
	SendPhoto(ctx context.Context, chatID string, photo *MediaMessage) (string, error)

	// SendDocument sends a file as a document attachment.
	SendDocument(ctx context.Context, chatID string, doc *MediaMessage) (string, error)
}

// EditAdapter extends Adapter with in-place message editing. Platforms that
// implement it get live draft streaming instead of debounced partial sends.
type EditAdapter interface {
	Adapter

	// EditMessageText replaces the text of a previously sent message.
	EditMessageText(ctx context.Context, chatID, messageID, text string) error

	// EditMessageKeyboard replaces (or removes, when buttons is nil) the
	// inline keyboard of a previously sent message.
	EditMessageKeyboard(ctx context.Context, chatID, messageID string, buttons []InlineButton) error
}

// CallbackAdapter extends Adapter with inline keyboard button presses.
type CallbackAdapter interface {
	Adapter

	// Callbacks returns a Go channel that emits callback queries.
	Callbacks() <-chan *CallbackQuery

	// AnswerCallback acknowledges a callback query, optionally showing a
	// short notification to the user.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// ReactionAdapter extends Adapter with message reactions.
type ReactionAdapter interface {
	Adapter

	// SendReaction sets a reaction emoji on a message.
	SendReaction(ctx context.Context, chatID, messageID, emoji string) error
}

// TypingAdapter extends Adapter with typing indicators.
type TypingAdapter interface {
	Adapter

	// SendTyping shows a "typing..." indicator in the chat.
	SendTyping(ctx context.Context, chatID string) error
}

// DraftStreamAdapter extends Adapter with a draft-stream primitive: one
// message edited in place as partial output arrives. Implies EditAdapter.
type DraftStreamAdapter interface {
	EditAdapter

	// StartDraft sends the initial partial text and returns a handle used
	// for subsequent updates.
	StartDraft(ctx context.Context, chatID, text string) (DraftStream, error)
}

// DraftStream is one live-edited message.
type DraftStream interface {
	// Update replaces the draft text. Implementations may rate-limit.
	Update(ctx context.Context, text string) error

	// Finalize writes the final text and releases the draft.
	Finalize(ctx context.Context, text string) (messageID string, err error)

	// Cancel deletes or abandons the draft without a final message.
	Cancel(ctx context.Context) error
}

// IncomingMessage represents a message received from any adapter.
type IncomingMessage struct {
	// ID is the unique message identifier on the source platform.
	ID string

	// Channel identifies the source adapter (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// ThreadID is the platform thread/topic identifier (if any).
	ThreadID string

	// Media contains attachment details (if any).
	Media *MediaInfo

	// Metadata contains additional platform-specific data.
	Metadata map[string]any
}

// OutgoingMessage represents a message to be sent through an adapter.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// ThreadID is the platform thread/topic to post into (if any).
	ThreadID string

	// ParseMode selects rich-text rendering ("HTML", "Markdown" or "").
	ParseMode string

	// Buttons is an optional inline keyboard attached to the message.
	Buttons []InlineButton

	// Metadata contains additional platform-specific data.
	Metadata map[string]any
}

// InlineButton is one inline keyboard button. Data carries the callback
// payload in "action:param" form.
type InlineButton struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	// ID is the platform callback identifier (used for AnswerCallback).
	ID string

	// Channel identifies the source adapter.
	Channel string

	// From is the pressing user's platform identifier.
	From string

	// ChatID is the chat the keyboard lives in.
	ChatID string

	// MessageID is the message carrying the keyboard.
	MessageID string

	// Data is the raw button payload ("action:param").
	Data string
}

// MediaMessage represents a media file to be sent.
type MediaMessage struct {
	// Type is the media type (image, audio, video, document).
	Type MessageType

	// Data is the raw media bytes. Either Data or Path must be set.
	Data []byte

	// Path is a local file path to read the media from.
	Path string

	// MimeType is the MIME type (e.g. "image/jpeg").
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// Caption is the text accompanying the media.
	Caption string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	// Type is the media type.
	Type MessageType

	// MimeType is the MIME type of the media.
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// FileSize is the size in bytes.
	FileSize uint64

	// Caption is the media caption text.
	Caption string

	// Duration is the duration in seconds (audio/video).
	Duration uint32

	// URL is a direct download URL (if available).
	URL string

	// FileID is the platform media handle used for downloads.
	FileID string
}

// HealthStatus represents the health state of an adapter.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// MaxMessageLength returns the outbound text length limit for an adapter.
// Longer replies are split by the router before sending.
func MaxMessageLength(adapter string) int {
	switch adapter {
	case "telegram":
		return 4096
	case "discord":
		return 2000
	case "whatsapp":
		return 65000
	default:
		return 4000
	}
}

// Errors.
var (
	ErrDisconnected     = fmt.Errorf("adapter is not connected")
	ErrSendFailed       = fmt.Errorf("failed to send message")
	ErrConnectFailed    = fmt.Errorf("failed to connect to platform")
	ErrEditNotSupported = fmt.Errorf("adapter does not support message edits")
	ErrMediaUnsupported = fmt.Errorf("media not supported by this adapter")
)
