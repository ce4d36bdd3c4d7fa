// Package telegram implements the Telegram adapter for ClawGate using the
// Bot API directly over HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Send/receive text, images, audio, video, documents, voice notes
//   - Inline keyboards and callback queries
//   - In-place message edits, used for live draft streaming
//   - Typing indicators (sendChatAction)
//   - Reactions (setMessageReaction, Bot API 7.0+)
//   - Media download via getFile into a local spool directory
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds Telegram adapter configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string

	// AllowedChats restricts which chat IDs the bot responds to.
	// Empty means respond to all chats.
	AllowedChats []int64

	// DownloadDir is where incoming media is spooled. Defaults to the
	// system temp directory.
	DownloadDir string

	// ParseMode sets the default parse mode for outgoing messages
	// ("HTML" or "Markdown").
	ParseMode string
}

// maxDownloadSize caps media spooling; the Bot API getFile limit is 20MB
// anyway.
const maxDownloadSize = 20 << 20

// minEditInterval throttles draft edits so Telegram's per-chat edit limits
// aren't tripped. The router's debounce usually paces slower than this.
const minEditInterval = 900 * time.Millisecond

// Telegram implements channels.Adapter plus the media, edit, callback,
// reaction, typing and draft-stream extensions.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	messages  chan *channels.IncomingMessage
	callbacks chan *channels.CallbackQuery

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	// onReconnect is invoked when the poll loop recovers after a string
	// of failures. Wired to Manager.NotifyReconnected.
	onReconnect func()

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a Telegram adapter.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "HTML"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	return &Telegram{
		cfg:       cfg,
		logger:    logger.With("component", "telegram"),
		client:    &http.Client{Timeout: 60 * time.Second},
		baseURL:   "https://api.telegram.org/bot" + cfg.Token,
		messages:  make(chan *channels.IncomingMessage, 256),
		callbacks: make(chan *channels.CallbackQuery, 64),
	}
}

// SetReconnectNotify registers a hook fired when long polling recovers from
// an outage.
func (t *Telegram) SetReconnectNotify(fn func()) { t.onReconnect = fn }

// ---------- Adapter interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	// Prevent double-connect goroutine leak.
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe()
	if err != nil {
		return fmt.Errorf("telegram: verify token: %w", err)
	}
	t.logger.Info("telegram connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop. The poll loop closes the message and
// callback streams on its way out.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram disconnected")
	return nil
}

// SendText sends a text message and returns the platform message ID.
func (t *Telegram) SendText(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if !t.connected.Load() {
		return "", channels.ErrDisconnected
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}

	parseMode := msg.ParseMode
	if parseMode == "" {
		parseMode = t.cfg.ParseMode
	}
	payload := map[string]any{
		"chat_id":    cid,
		"text":       msg.Content,
		"parse_mode": parseMode,
	}
	if msg.ReplyTo != "" {
		if mid, e := strconv.ParseInt(msg.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": mid}
		}
	}
	if markup := buildReplyMarkup(msg.Buttons); markup != nil {
		payload["reply_markup"] = markup
	}

	result, err := t.apiCall(ctx, "sendMessage", payload)
	if err != nil {
		return "", err
	}
	return messageIDFromResult(result), nil
}

// Receive returns the incoming message stream.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage { return t.messages }

// IsConnected reports connection state.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the adapter health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// ---------- MediaAdapter interface ----------

// SendPhoto sends an image with an optional caption.
func (t *Telegram) SendPhoto(ctx context.Context, chatID string, photo *channels.MediaMessage) (string, error) {
	return t.sendMedia(ctx, chatID, "sendPhoto", "photo", photo)
}

// SendDocument sends a file as a document attachment.
func (t *Telegram) SendDocument(ctx context.Context, chatID string, doc *channels.MediaMessage) (string, error) {
	return t.sendMedia(ctx, chatID, "sendDocument", "document", doc)
}

func (t *Telegram) sendMedia(ctx context.Context, chatID, method, field string, media *channels.MediaMessage) (string, error) {
	if !t.connected.Load() {
		return "", channels.ErrDisconnected
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}

	data := media.Data
	if len(data) == 0 && media.Path != "" {
		data, err = os.ReadFile(media.Path)
		if err != nil {
			return "", fmt.Errorf("telegram: read media %q: %w", media.Path, err)
		}
	}
	if len(data) == 0 {
		return "", fmt.Errorf("telegram: media data is required for upload")
	}
	filename := media.Filename
	if filename == "" && media.Path != "" {
		filename = filepath.Base(media.Path)
	}
	if filename == "" {
		filename = "file"
	}
	return t.uploadFile(ctx, method, cid, field, filename, media.Caption, data)
}

// ---------- EditAdapter / DraftStreamAdapter interfaces ----------

// EditMessageText replaces the text of a previously sent message.
func (t *Telegram) EditMessageText(ctx context.Context, chatID, messageID, text string) error {
	if !t.connected.Load() {
		return channels.ErrDisconnected
	}
	cid, mid, err := parseChatMessage(chatID, messageID)
	if err != nil {
		return err
	}
	_, err = t.apiCall(ctx, "editMessageText", map[string]any{
		"chat_id":    cid,
		"message_id": mid,
		"text":       text,
		"parse_mode": t.cfg.ParseMode,
	})
	return err
}

// EditMessageKeyboard replaces the inline keyboard; nil buttons removes it.
func (t *Telegram) EditMessageKeyboard(ctx context.Context, chatID, messageID string, buttons []channels.InlineButton) error {
	if !t.connected.Load() {
		return channels.ErrDisconnected
	}
	cid, mid, err := parseChatMessage(chatID, messageID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"chat_id":    cid,
		"message_id": mid,
	}
	if markup := buildReplyMarkup(buttons); markup != nil {
		payload["reply_markup"] = markup
	} else {
		payload["reply_markup"] = map[string]any{"inline_keyboard": [][]map[string]any{}}
	}
	_, err = t.apiCall(ctx, "editMessageReplyMarkup", payload)
	return err
}

// StartDraft sends the initial partial text and returns a live-editable
// draft handle.
func (t *Telegram) StartDraft(ctx context.Context, chatID, text string) (channels.DraftStream, error) {
	msgID, err := t.SendText(ctx, chatID, &channels.OutgoingMessage{Content: text})
	if err != nil {
		return nil, err
	}
	if msgID == "" {
		return nil, channels.ErrSendFailed
	}
	return &draft{t: t, chatID: chatID, messageID: msgID, lastEdit: time.Now(), lastText: text}, nil
}

// draft is one live-edited Telegram message.
type draft struct {
	t         *Telegram
	chatID    string
	messageID string

	mu       sync.Mutex
	lastEdit time.Time
	lastText string
	done     bool
}

// Update edits the draft in place. Edits arriving faster than
// minEditInterval are dropped; the next update carries the newer text.
func (d *draft) Update(ctx context.Context, text string) error {
	d.mu.Lock()
	if d.done || text == d.lastText {
		d.mu.Unlock()
		return nil
	}
	if time.Since(d.lastEdit) < minEditInterval {
		d.mu.Unlock()
		return nil
	}
	d.lastEdit = time.Now()
	d.lastText = text
	d.mu.Unlock()

	return d.t.EditMessageText(ctx, d.chatID, d.messageID, text)
}

// Finalize writes the final text and releases the draft.
func (d *draft) Finalize(ctx context.Context, text string) (string, error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return d.messageID, nil
	}
	d.done = true
	same := text == d.lastText
	d.mu.Unlock()

	if same {
		return d.messageID, nil
	}
	if err := d.t.EditMessageText(ctx, d.chatID, d.messageID, text); err != nil {
		return d.messageID, err
	}
	return d.messageID, nil
}

// Cancel deletes the draft message.
func (d *draft) Cancel(ctx context.Context) error {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return nil
	}
	d.done = true
	d.mu.Unlock()

	cid, mid, err := parseChatMessage(d.chatID, d.messageID)
	if err != nil {
		return err
	}
	_, err = d.t.apiCall(ctx, "deleteMessage", map[string]any{
		"chat_id": cid, "message_id": mid,
	})
	return err
}

// ---------- CallbackAdapter interface ----------

// Callbacks returns the callback query stream.
func (t *Telegram) Callbacks() <-chan *channels.CallbackQuery { return t.callbacks }

// AnswerCallback acknowledges a callback query with an optional toast.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if !t.connected.Load() {
		return channels.ErrDisconnected
	}
	payload := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	_, err := t.apiCall(ctx, "answerCallbackQuery", payload)
	return err
}

// ---------- ReactionAdapter / TypingAdapter interfaces ----------

// SendReaction sets a reaction emoji on a message (Bot API 7.0+).
func (t *Telegram) SendReaction(ctx context.Context, chatID, messageID, emoji string) error {
	if !t.connected.Load() {
		return nil
	}
	cid, mid, err := parseChatMessage(chatID, messageID)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "setMessageReaction", map[string]any{
		"chat_id":    cid,
		"message_id": mid,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	})
	return err
}

// SendTyping sends a "typing..." chat action.
func (t *Telegram) SendTyping(ctx context.Context, chatID string) error {
	if !t.connected.Load() {
		return nil
	}
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": cid,
		"action":  "typing",
	})
	return err
}

// ---------- Polling ----------

// pollLoop runs the getUpdates long-polling loop with exponential backoff.
func (t *Telegram) pollLoop() {
	defer close(t.messages)
	defer close(t.callbacks)

	t.logger.Info("telegram polling started")
	backoff := time.Second
	failing := false

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.offset, 100, 30)
		if err != nil {
			failing = true
			t.errorCount.Add(1)
			t.logger.Warn("telegram getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		if failing {
			failing = false
			t.logger.Info("telegram polling recovered")
			if t.onReconnect != nil {
				t.onReconnect()
			}
		}
		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage or
// CallbackQuery.
func (t *Telegram) processUpdate(u tgUpdate) {
	if u.CallbackQuery != nil {
		t.processCallback(u.CallbackQuery)
		return
	}

	msg := u.Message
	if msg == nil {
		if u.EditedMessage != nil {
			msg = u.EditedMessage // treat edits as new messages
		} else {
			return
		}
	}

	if !t.chatAllowed(msg.Chat.ID) {
		return
	}

	from := ""
	fromName := ""
	if msg.From != nil {
		from = strconv.FormatInt(msg.From.ID, 10)
		fromName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if fromName == "" {
			fromName = msg.From.Username
		}
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		From:      from,
		FromName:  fromName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   msg.Chat.Type == "group" || msg.Chat.Type == "supergroup",
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	// Media messages carry a caption instead of text.
	if msg.Caption != "" && incoming.Content == "" {
		incoming.Content = msg.Caption
	}
	if msg.ReplyToMessage != nil {
		incoming.ReplyTo = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	t.attachMedia(incoming, msg)

	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func (t *Telegram) processCallback(cq *tgCallbackQuery) {
	if cq.Message == nil || !t.chatAllowed(cq.Message.Chat.ID) {
		return
	}
	cb := &channels.CallbackQuery{
		ID:        cq.ID,
		Channel:   "telegram",
		From:      strconv.FormatInt(cq.From.ID, 10),
		ChatID:    strconv.FormatInt(cq.Message.Chat.ID, 10),
		MessageID: strconv.Itoa(cq.Message.MessageID),
		Data:      cq.Data,
	}
	select {
	case t.callbacks <- cb:
	default:
		t.logger.Warn("telegram callback buffer full, dropping press", "callback", cq.ID)
	}
}

func (t *Telegram) chatAllowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// attachMedia fills incoming.Media and downloads the payload into the spool
// directory, leaving the path in Metadata["local_path"].
func (t *Telegram) attachMedia(incoming *channels.IncomingMessage, msg *tgMessage) {
	var (
		fileID   string
		fileSize int
	)
	switch {
	case len(msg.Photo) > 0:
		// Use the largest photo (last in array).
		photo := msg.Photo[len(msg.Photo)-1]
		incoming.Type = channels.MessageImage
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageImage,
			FileID:   photo.FileID,
			FileSize: uint64(photo.FileSize),
			Caption:  msg.Caption,
		}
		fileID, fileSize = photo.FileID, photo.FileSize
	case msg.Voice != nil:
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			FileID:   msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: uint64(msg.Voice.FileSize),
			Duration: uint32(msg.Voice.Duration),
		}
		fileID, fileSize = msg.Voice.FileID, msg.Voice.FileSize
	case msg.Audio != nil:
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			FileID:   msg.Audio.FileID,
			MimeType: msg.Audio.MimeType,
			FileSize: uint64(msg.Audio.FileSize),
			Duration: uint32(msg.Audio.Duration),
		}
		fileID, fileSize = msg.Audio.FileID, msg.Audio.FileSize
	case msg.Video != nil:
		incoming.Type = channels.MessageVideo
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVideo,
			FileID:   msg.Video.FileID,
			MimeType: msg.Video.MimeType,
			FileSize: uint64(msg.Video.FileSize),
			Duration: uint32(msg.Video.Duration),
		}
		fileID, fileSize = msg.Video.FileID, msg.Video.FileSize
	case msg.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			FileID:   msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			FileSize: uint64(msg.Document.FileSize),
			Filename: msg.Document.FileName,
			Caption:  msg.Caption,
		}
		fileID, fileSize = msg.Document.FileID, msg.Document.FileSize
	default:
		return
	}

	if fileSize > maxDownloadSize {
		t.logger.Warn("telegram media too large to download", "msg_id", incoming.ID, "size", fileSize)
		return
	}
	path, err := t.downloadToSpool(fileID, incoming.Media.Filename)
	if err != nil {
		t.logger.Warn("telegram media download failed", "msg_id", incoming.ID, "error", err)
		return
	}
	incoming.Metadata = map[string]any{"local_path": path}
}

// downloadToSpool fetches a file by ID into the download directory.
func (t *Telegram) downloadToSpool(fileID, filename string) (string, error) {
	info, err := t.getFile(fileID)
	if err != nil {
		return "", fmt.Errorf("getFile: %w", err)
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", t.cfg.Token, info.FilePath)

	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	if filename == "" {
		filename = filepath.Base(info.FilePath)
	}
	dest := filepath.Join(t.cfg.DownloadDir, fmt.Sprintf("tg-%d-%s", time.Now().UnixNano(), filepath.Base(filename)))
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

// ---------- Bot API types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	EditedMessage *tgMessage       `json:"edited_message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgMessage struct {
	MessageID      int         `json:"message_id"`
	From           *tgUser     `json:"from"`
	Chat           tgChat      `json:"chat"`
	Date           int         `json:"date"`
	Text           string      `json:"text"`
	Caption        string      `json:"caption"`
	ReplyToMessage *tgMessage  `json:"reply_to_message"`
	Photo          []tgPhoto   `json:"photo"`
	Audio          *tgAudio    `json:"audio"`
	Voice          *tgVoice    `json:"voice"`
	Video          *tgVideo    `json:"video"`
	Document       *tgDocument `json:"document"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // "private", "group", "supergroup", "channel"
}

type tgPhoto struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size"`
}

type tgAudio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgVideo struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int    `json:"file_size"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// ---------- API helpers ----------

// buildReplyMarkup converts InlineButtons into an InlineKeyboardMarkup, one
// button per row.
func buildReplyMarkup(buttons []channels.InlineButton) map[string]any {
	if len(buttons) == 0 {
		return nil
	}
	rows := make([][]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		if b.Text == "" {
			continue
		}
		btn := map[string]any{"text": b.Text}
		switch {
		case b.URL != "":
			btn["url"] = b.URL
		case b.Data != "":
			data := b.Data
			if len(data) > 64 { // Bot API callback_data limit
				data = data[:64]
			}
			btn["callback_data"] = data
		default:
			btn["callback_data"] = "1"
		}
		rows = append(rows, []map[string]any{btn})
	}
	if len(rows) == 0 {
		return nil
	}
	return map[string]any{"inline_keyboard": rows}
}

func messageIDFromResult(result json.RawMessage) string {
	var msg struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(result, &msg); err != nil || msg.MessageID == 0 {
		return ""
	}
	return strconv.Itoa(msg.MessageID)
}

func parseChatMessage(chatID, messageID string) (int64, int64, error) {
	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}
	mid, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid message ID %q: %w", messageID, err)
	}
	return cid, mid, nil
}

// apiCall makes a POST request to the Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = t.ctx
	}
	url := t.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe() (*tgBotUser, error) {
	data, err := t.apiCall(t.ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(t.ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"limit":   limit,
		"timeout": timeoutSecs,
		"allowed_updates": []string{
			"message", "edited_message", "callback_query",
		},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// getFile retrieves file info for downloading.
func (t *Telegram) getFile(fileID string) (*tgFile, error) {
	data, err := t.apiCall(t.ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}

// uploadFile uploads media using multipart form data and returns the new
// message ID.
func (t *Telegram) uploadFile(ctx context.Context, method string, chatID int64, field, filename, caption string, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if caption != "" {
		_ = w.WriteField("caption", caption)
		_ = w.WriteField("parse_mode", t.cfg.ParseMode)
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return "", fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("telegram: writing file data: %w", err)
	}
	w.Close()

	url := t.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("telegram: decoding %s upload response: %w", method, err)
	}
	if !result.OK {
		return "", fmt.Errorf("telegram: %s upload: %s", method, result.Description)
	}
	return messageIDFromResult(result.Result), nil
}

// Compile-time interface verification.
var (
	_ channels.Adapter            = (*Telegram)(nil)
	_ channels.MediaAdapter       = (*Telegram)(nil)
	_ channels.EditAdapter        = (*Telegram)(nil)
	_ channels.CallbackAdapter    = (*Telegram)(nil)
	_ channels.ReactionAdapter    = (*Telegram)(nil)
	_ channels.TypingAdapter      = (*Telegram)(nil)
	_ channels.DraftStreamAdapter = (*Telegram)(nil)
)
