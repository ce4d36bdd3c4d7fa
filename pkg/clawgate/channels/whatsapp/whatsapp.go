// Package whatsapp implements the WhatsApp adapter for ClawGate using
// whatsmeow, a native Go WhatsApp Web API library.
//
// Features:
//   - QR code login with persistent session (SQLite)
//   - Send/receive text, images, audio, video, documents
//   - Group message support, replies and quoting
//   - Reactions and typing indicators
//   - Encrypted media download into a local spool directory
//   - Automatic reconnection with backoff
//
// WhatsApp cannot edit sent messages, so the router streams partial output
// through the debounce path instead of a live draft.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	waCommon "go.mau.fi/whatsmeow/proto/waCommon"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds WhatsApp adapter configuration.
type Config struct {
	// DatabasePath is the SQLite file for session persistence (whatsmeow_
	// prefixed tables).
	DatabasePath string

	// MediaDir is where incoming media is spooled. Defaults to the system
	// temp directory.
	MediaDir string

	// MaxMediaSizeMB caps downloaded media size.
	MaxMediaSizeMB int

	// ReconnectBackoff is the initial backoff for reconnection attempts.
	ReconnectBackoff time.Duration

	// MaxReconnectAttempts caps reconnection tries (0 = unlimited).
	MaxReconnectAttempts int
}

// WhatsApp implements channels.Adapter plus the media, reaction and typing
// extensions.
type WhatsApp struct {
	cfg    Config
	client *whatsmeow.Client
	logger *slog.Logger

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	reconnectAttempts atomic.Int32
	reconnectGuard    atomic.Bool

	// messagesClosed prevents a send on the closed stream after Disconnect.
	messagesClosed atomic.Bool

	// onReconnect is invoked when the connection comes back after a drop.
	// Wired to Manager.NotifyReconnected.
	onReconnect func()

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a WhatsApp adapter.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.MaxMediaSizeMB == 0 {
		cfg.MaxMediaSizeMB = 16
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = os.TempDir()
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// SetReconnectNotify registers a hook fired when the connection recovers
// after a drop.
func (w *WhatsApp) SetReconnectNotify(fn func()) { w.onReconnect = fn }

// ---------- Adapter interface ----------

// Name returns "whatsapp".
func (w *WhatsApp) Name() string { return "whatsapp" }

// Connect establishes the WhatsApp Web connection. When no session exists
// the QR login runs in the background and the code is logged for scanning.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	if w.cfg.DatabasePath == "" {
		return fmt.Errorf("whatsapp: session database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(w.cfg.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("whatsapp: create session directory: %w", err)
	}

	container, err := sqlstore.New(w.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.DatabasePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("whatsapp: creating session store: %w", err)
	}

	device, err := w.getDevice(w.ctx, container)
	if err != nil {
		return fmt.Errorf("whatsapp: getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked devices list.
	wastore.SetOSInfo("ClawGate", [3]uint32{1, 0, 0})

	w.client = whatsmeow.NewClient(device, waLog.Noop)
	w.client.AddEventHandler(w.handleEvent)
	w.client.EnableAutoReconnect = true
	w.client.InitialAutoReconnect = true

	if w.client.Store.ID == nil {
		// First login — run the QR flow in the background so startup
		// doesn't block.
		w.logger.Info("whatsapp: no existing session, QR login required")
		go func() {
			if err := w.loginWithQR(w.ctx); err != nil {
				w.logger.Warn("whatsapp QR login pending", "error", err)
			}
		}()
		return nil
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.connected.Store(true)
	w.logger.Info("whatsapp connected", "jid", w.clientJID())
	return nil
}

// Disconnect gracefully closes the connection and the message stream.
func (w *WhatsApp) Disconnect() error {
	w.connected.Store(false)
	if w.cancel != nil {
		w.cancel()
	}
	if w.client != nil {
		w.client.Disconnect()
	}
	if w.messagesClosed.CompareAndSwap(false, true) {
		close(w.messages)
	}
	w.logger.Info("whatsapp disconnected")
	return nil
}

// SendText sends a text message and returns the platform message ID.
func (w *WhatsApp) SendText(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if !w.connected.Load() {
		return "", channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("whatsapp: invalid JID %q: %w", chatID, err)
	}

	waMsg := buildTextMessage(msg.Content, msg.ReplyTo, jid)
	resp, err := w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		w.errorCount.Add(1)
		return "", fmt.Errorf("whatsapp: sending message: %w", err)
	}
	return string(resp.ID), nil
}

// Receive returns the incoming message stream.
func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage { return w.messages }

// IsConnected reports connection state.
func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// Health returns the adapter health status.
func (w *WhatsApp) Health() channels.HealthStatus {
	h := channels.HealthStatus{
		Connected:  w.connected.Load(),
		ErrorCount: int(w.errorCount.Load()),
		Details:    make(map[string]any),
	}
	if t, ok := w.lastMsg.Load().(time.Time); ok {
		h.LastMessageAt = t
	}
	if jid := w.clientJID(); jid != "" {
		h.Details["jid"] = jid
	}
	h.Details["reconnect_attempts"] = w.reconnectAttempts.Load()
	return h
}

// ---------- MediaAdapter interface ----------

// SendPhoto uploads and sends an image with an optional caption.
func (w *WhatsApp) SendPhoto(ctx context.Context, chatID string, photo *channels.MediaMessage) (string, error) {
	return w.sendMedia(ctx, chatID, photo, whatsmeow.MediaImage)
}

// SendDocument uploads and sends a file as a document.
func (w *WhatsApp) SendDocument(ctx context.Context, chatID string, doc *channels.MediaMessage) (string, error) {
	return w.sendMedia(ctx, chatID, doc, whatsmeow.MediaDocument)
}

func (w *WhatsApp) sendMedia(ctx context.Context, chatID string, media *channels.MediaMessage, mediaType whatsmeow.MediaType) (string, error) {
	if !w.connected.Load() {
		return "", channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return "", fmt.Errorf("whatsapp: invalid JID %q: %w", chatID, err)
	}

	data := media.Data
	if len(data) == 0 && media.Path != "" {
		data, err = os.ReadFile(media.Path)
		if err != nil {
			return "", fmt.Errorf("whatsapp: read media %q: %w", media.Path, err)
		}
	}
	if len(data) == 0 {
		return "", fmt.Errorf("whatsapp: media data is required")
	}

	uploaded, err := w.client.Upload(ctx, data, mediaType)
	if err != nil {
		return "", fmt.Errorf("whatsapp: uploading media: %w", err)
	}

	mime := media.MimeType
	var waMsg *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		if mime == "" {
			mime = "image/jpeg"
		}
		waMsg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	default:
		if mime == "" {
			mime = "application/octet-stream"
		}
		filename := media.Filename
		if filename == "" && media.Path != "" {
			filename = filepath.Base(media.Path)
		}
		waMsg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(media.Caption),
			FileName:      proto.String(filename),
			Mimetype:      proto.String(mime),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
		}}
	}

	resp, err := w.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		w.errorCount.Add(1)
		return "", fmt.Errorf("whatsapp: sending media: %w", err)
	}
	return string(resp.ID), nil
}

// ---------- ReactionAdapter / TypingAdapter interfaces ----------

// SendReaction sends an emoji reaction to a message.
func (w *WhatsApp) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	waMsg := &waE2E.Message{ReactionMessage: &waE2E.ReactionMessage{
		Key: &waCommon.MessageKey{
			RemoteJID: proto.String(jid.String()),
			FromMe:    proto.Bool(false),
			ID:        proto.String(messageID),
		},
		Text:              proto.String(emoji),
		SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
	}}
	_, err = w.client.SendMessage(ctx, jid, waMsg)
	return err
}

// SendTyping sends a composing presence.
func (w *WhatsApp) SendTyping(ctx context.Context, chatID string) error {
	if !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return nil
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

// ---------- Internal ----------

// getDevice retrieves the existing device or creates a new one.
func (w *WhatsApp) getDevice(ctx context.Context, container *sqlstore.Container) (*wastore.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

func (w *WhatsApp) clientJID() string {
	if w.client != nil && w.client.Store.ID != nil {
		return w.client.Store.ID.String()
	}
	return ""
}

// loginWithQR runs the QR login flow, logging each code for the operator to
// scan.
func (w *WhatsApp) loginWithQR(ctx context.Context) error {
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed unexpectedly")
			}
			switch evt.Event {
			case "code":
				w.logger.Info("whatsapp QR code ready, scan with the WhatsApp app", "code", evt.Code)
			case "success":
				w.connected.Store(true)
				w.reconnectAttempts.Store(0)
				w.logger.Info("whatsapp login successful", "jid", w.clientJID())
				return nil
			case "timeout":
				w.logger.Warn("whatsapp QR code expired")
				return fmt.Errorf("QR code timeout")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login error: %w", evt.Error)
				}
			}
		}
	}
}

// attemptReconnect retries the connection with exponential backoff. The
// guard keeps a single reconnect loop running.
func (w *WhatsApp) attemptReconnect() {
	if !w.reconnectGuard.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnectGuard.Store(false)

	for {
		if w.ctx.Err() != nil {
			return
		}
		attempts := w.reconnectAttempts.Add(1)
		if w.cfg.MaxReconnectAttempts > 0 && attempts > int32(w.cfg.MaxReconnectAttempts) {
			w.logger.Error("whatsapp max reconnect attempts reached", "attempts", attempts)
			return
		}

		backoff := w.cfg.ReconnectBackoff * time.Duration(attempts)
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		w.logger.Info("whatsapp attempting reconnect", "attempt", attempts, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}

		if w.client == nil {
			return
		}
		// Clear stale websocket state before reconnecting.
		if w.client.IsConnected() {
			w.client.Disconnect()
			time.Sleep(100 * time.Millisecond)
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp reconnect attempt failed", "attempt", attempts, "error", err)
			continue
		}
		// The Connected event confirms and resets counters.
		return
	}
}

// emitMessage forwards a message to the stream, dropping when full.
func (w *WhatsApp) emitMessage(msg *channels.IncomingMessage) {
	if w.messagesClosed.Load() {
		return
	}
	select {
	case w.messages <- msg:
		w.lastMsg.Store(time.Now())
	default:
		w.logger.Warn("whatsapp message buffer full, dropping message", "from", msg.From)
	}
}

// parseJID converts a string to types.JID. Accepts "5511999999999",
// "5511999999999@s.whatsapp.net" or group IDs like "1234-5678@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// buildTextMessage wraps text in a Message proto, quoting when replying.
func buildTextMessage(content, replyTo string, chat types.JID) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(content)}
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text: proto.String(content),
		ContextInfo: &waE2E.ContextInfo{
			StanzaID:    proto.String(replyTo),
			Participant: proto.String(chat.String()),
		},
	}}
}

// Compile-time interface verification.
var (
	_ channels.Adapter         = (*WhatsApp)(nil)
	_ channels.MediaAdapter    = (*WhatsApp)(nil)
	_ channels.ReactionAdapter = (*WhatsApp)(nil)
	_ channels.TypingAdapter   = (*WhatsApp)(nil)
)
