// Package discord implements the Discord adapter for ClawGate using
// discordgo.
//
// Features:
//   - Send/receive text, images, audio, video, documents
//   - Inline buttons via message components, surfaced as callback queries
//   - In-place message edits, used for live draft streaming
//   - Typing indicators and reactions
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// AllowedGuilds restricts which guild (server) IDs the bot responds
	// in. Empty means respond in all guilds.
	AllowedGuilds []string

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string

	// DownloadDir is where incoming attachments are spooled. Defaults to
	// the system temp directory.
	DownloadDir string
}

// maxDownloadSize caps attachment spooling.
const maxDownloadSize = 25 << 20

// interactionTTL bounds how long an unanswered interaction handle is kept
// for AnswerCallback.
const interactionTTL = 5 * time.Minute

// Discord implements channels.Adapter plus the media, edit, callback,
// reaction, typing and draft-stream extensions.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages  chan *channels.IncomingMessage
	callbacks chan *channels.CallbackQuery

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	httpClient *http.Client

	// interactions holds pending interaction handles keyed by callback ID
	// so AnswerCallback can post an ephemeral toast.
	interMu      sync.Mutex
	interactions map[string]*discordgo.Interaction
}

// New creates a Discord adapter.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	return &Discord{
		cfg:          cfg,
		logger:       logger.With("component", "discord"),
		messages:     make(chan *channels.IncomingMessage, 256),
		callbacks:    make(chan *channels.CallbackQuery, 64),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		interactions: make(map[string]*discordgo.Interaction),
	}
}

// ---------- Adapter interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the gateway connection and the message streams.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	close(d.messages)
	close(d.callbacks)
	d.logger.Info("discord disconnected")
	return nil
}

// SendText sends a text message and returns the new message ID. Content is
// assumed to fit Discord's 2000-char limit; the router splits beforehand.
func (d *Discord) SendText(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if d.session == nil || !d.connected.Load() {
		return "", channels.ErrDisconnected
	}

	send := &discordgo.MessageSend{Content: msg.Content}
	if msg.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo}
	}
	if comps := buildComponents(msg.Buttons); len(comps) > 0 {
		send.Components = comps
	}

	sent, err := d.session.ChannelMessageSendComplex(chatID, send, discordgo.WithContext(ctx))
	if err != nil {
		d.errorCount.Add(1)
		return "", fmt.Errorf("discord: send: %w", err)
	}
	return sent.ID, nil
}

// Receive returns the incoming message stream.
func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

// IsConnected reports connection state.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the adapter health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaAdapter interface ----------

// SendPhoto sends an image with an optional caption.
func (d *Discord) SendPhoto(ctx context.Context, chatID string, photo *channels.MediaMessage) (string, error) {
	return d.sendFile(ctx, chatID, photo)
}

// SendDocument sends a file attachment.
func (d *Discord) SendDocument(ctx context.Context, chatID string, doc *channels.MediaMessage) (string, error) {
	return d.sendFile(ctx, chatID, doc)
}

func (d *Discord) sendFile(ctx context.Context, chatID string, media *channels.MediaMessage) (string, error) {
	if d.session == nil || !d.connected.Load() {
		return "", channels.ErrDisconnected
	}

	var reader io.Reader
	filename := media.Filename
	switch {
	case len(media.Data) > 0:
		reader = bytes.NewReader(media.Data)
	case media.Path != "":
		f, err := os.Open(media.Path)
		if err != nil {
			return "", fmt.Errorf("discord: open media %q: %w", media.Path, err)
		}
		defer f.Close()
		reader = f
		if filename == "" {
			filename = filepath.Base(media.Path)
		}
	default:
		return "", fmt.Errorf("discord: no media data or path")
	}
	if filename == "" {
		filename = "file"
	}

	send := &discordgo.MessageSend{
		Content: media.Caption,
		Files:   []*discordgo.File{{Name: filename, ContentType: media.MimeType, Reader: reader}},
	}
	sent, err := d.session.ChannelMessageSendComplex(chatID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send file: %w", err)
	}
	return sent.ID, nil
}

// ---------- EditAdapter / DraftStreamAdapter interfaces ----------

// EditMessageText replaces the text of a previously sent message.
func (d *Discord) EditMessageText(ctx context.Context, chatID, messageID, text string) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrDisconnected
	}
	_, err := d.session.ChannelMessageEdit(chatID, messageID, text, discordgo.WithContext(ctx))
	return err
}

// EditMessageKeyboard replaces the message components; nil removes them.
func (d *Discord) EditMessageKeyboard(ctx context.Context, chatID, messageID string, buttons []channels.InlineButton) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrDisconnected
	}
	comps := buildComponents(buttons)
	if comps == nil {
		comps = []discordgo.MessageComponent{}
	}
	edit := discordgo.NewMessageEdit(chatID, messageID)
	edit.Components = &comps
	_, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	return err
}

// StartDraft sends the initial partial text and returns a live-editable
// draft handle.
func (d *Discord) StartDraft(ctx context.Context, chatID, text string) (channels.DraftStream, error) {
	msgID, err := d.SendText(ctx, chatID, &channels.OutgoingMessage{Content: text})
	if err != nil {
		return nil, err
	}
	return &draft{d: d, chatID: chatID, messageID: msgID, lastText: text}, nil
}

type draft struct {
	d         *Discord
	chatID    string
	messageID string

	mu       sync.Mutex
	lastText string
	done     bool
}

func (dr *draft) Update(ctx context.Context, text string) error {
	dr.mu.Lock()
	if dr.done || text == dr.lastText {
		dr.mu.Unlock()
		return nil
	}
	dr.lastText = text
	dr.mu.Unlock()
	return dr.d.EditMessageText(ctx, dr.chatID, dr.messageID, text)
}

func (dr *draft) Finalize(ctx context.Context, text string) (string, error) {
	dr.mu.Lock()
	if dr.done {
		dr.mu.Unlock()
		return dr.messageID, nil
	}
	dr.done = true
	same := text == dr.lastText
	dr.mu.Unlock()

	if same {
		return dr.messageID, nil
	}
	if err := dr.d.EditMessageText(ctx, dr.chatID, dr.messageID, text); err != nil {
		return dr.messageID, err
	}
	return dr.messageID, nil
}

func (dr *draft) Cancel(ctx context.Context) error {
	dr.mu.Lock()
	if dr.done {
		dr.mu.Unlock()
		return nil
	}
	dr.done = true
	dr.mu.Unlock()
	if dr.d.session == nil {
		return channels.ErrDisconnected
	}
	return dr.d.session.ChannelMessageDelete(dr.chatID, dr.messageID, discordgo.WithContext(ctx))
}

// ---------- CallbackAdapter interface ----------

// Callbacks returns the callback query stream.
func (d *Discord) Callbacks() <-chan *channels.CallbackQuery { return d.callbacks }

// AnswerCallback posts an ephemeral follow-up for a pending interaction.
// The interaction itself was already acknowledged in onInteractionCreate to
// satisfy Discord's 3s deadline.
func (d *Discord) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if d.session == nil {
		return channels.ErrDisconnected
	}
	d.interMu.Lock()
	inter, ok := d.interactions[callbackID]
	delete(d.interactions, callbackID)
	d.interMu.Unlock()
	if !ok || text == "" {
		return nil
	}
	_, err := d.session.FollowupMessageCreate(inter, true, &discordgo.WebhookParams{
		Content: text,
		Flags:   discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	return err
}

// ---------- ReactionAdapter / TypingAdapter interfaces ----------

// SendReaction adds a reaction emoji to a message.
func (d *Discord) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if d.session == nil {
		return nil
	}
	return d.session.MessageReactionAdd(chatID, messageID, emoji, discordgo.WithContext(ctx))
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, chatID string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(chatID, discordgo.WithContext(ctx))
}

// ---------- Event handlers ----------

// onMessageCreate converts Discord messages into IncomingMessages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if !d.chatAllowed(m.GuildID, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := inferMediaType(att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			URL:      att.URL,
			MimeType: att.ContentType,
			FileSize: uint64(att.Size),
			Filename: att.Filename,
			Caption:  m.Content,
		}
		if path, err := d.downloadToSpool(att.URL, att.Filename); err == nil {
			incoming.Metadata = map[string]any{"local_path": path}
		} else {
			d.logger.Warn("discord attachment download failed", "msg_id", m.ID, "error", err)
		}
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// onInteractionCreate turns button presses into callback queries. The
// interaction is acknowledged immediately; the toast (if any) arrives later
// via AnswerCallback as an ephemeral follow-up.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := i.MessageComponentData()
	if data.CustomID == "" {
		return
	}

	userID := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
	} else if i.User != nil {
		userID = i.User.ID
	}
	if userID == "" {
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Warn("discord interaction ack failed", "custom_id", data.CustomID, "error", err)
		return
	}

	d.interMu.Lock()
	d.interactions[i.ID] = i.Interaction
	d.interMu.Unlock()
	time.AfterFunc(interactionTTL, func() {
		d.interMu.Lock()
		delete(d.interactions, i.ID)
		d.interMu.Unlock()
	})

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}
	cb := &channels.CallbackQuery{
		ID:        i.ID,
		Channel:   "discord",
		From:      userID,
		ChatID:    i.ChannelID,
		MessageID: messageID,
		Data:      data.CustomID,
	}
	select {
	case d.callbacks <- cb:
	default:
		d.logger.Warn("discord callback buffer full, dropping press", "custom_id", data.CustomID)
	}
}

// ---------- Helpers ----------

func (d *Discord) chatAllowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" {
		ok := false
		for _, id := range d.cfg.AllowedGuilds {
			if id == guildID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(d.cfg.AllowedChannels) > 0 {
		ok := false
		for _, id := range d.cfg.AllowedChannels {
			if id == channelID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// downloadToSpool fetches an attachment URL into the download directory.
func (d *Discord) downloadToSpool(url, filename string) (string, error) {
	resp, err := d.httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}
	if filename == "" {
		filename = "attachment"
	}
	dest := filepath.Join(d.cfg.DownloadDir, fmt.Sprintf("dc-%d-%s", time.Now().UnixNano(), filepath.Base(filename)))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadSize)); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	return dest, nil
}

// buildComponents converts InlineButtons into one action row of Discord
// buttons. Discord allows at most five buttons per row.
func buildComponents(buttons []channels.InlineButton) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for _, b := range buttons {
		if b.Text == "" {
			continue
		}
		var btn discordgo.Button
		if b.URL != "" {
			btn = discordgo.Button{Label: b.Text, Style: discordgo.LinkButton, URL: b.URL}
		} else {
			btn = discordgo.Button{Label: b.Text, Style: discordgo.SecondaryButton, CustomID: b.Data}
		}
		row = append(row, btn)
		if len(row) == 5 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return rows
}

// inferMediaType maps MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

// Compile-time interface verification.
var (
	_ channels.Adapter            = (*Discord)(nil)
	_ channels.MediaAdapter       = (*Discord)(nil)
	_ channels.EditAdapter        = (*Discord)(nil)
	_ channels.CallbackAdapter    = (*Discord)(nil)
	_ channels.ReactionAdapter    = (*Discord)(nil)
	_ channels.TypingAdapter      = (*Discord)(nil)
	_ channels.DraftStreamAdapter = (*Discord)(nil)
)
