// manager.go aggregates multiple adapters behind a single entry point:
// incoming messages and callback queries from every platform are merged into
// one stream each, and outbound operations are dispatched to the right
// adapter by name with capability checks.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// StatusEvent signals an adapter connecting or disconnecting. The router
// listens to these to replay task routes after a reconnect.
type StatusEvent struct {
	Channel   string
	Connected bool
}

// Manager orchestrates the registered adapters.
type Manager struct {
	adapters map[string]Adapter

	messages  chan *IncomingMessage
	callbacks chan *CallbackQuery
	status    chan StatusEvent

	logger   *slog.Logger
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an adapter manager with the given logger.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		adapters:  make(map[string]Adapter),
		messages:  make(chan *IncomingMessage, 256),
		callbacks: make(chan *CallbackQuery, 64),
		status:    make(chan StatusEvent, 16),
		logger:    logger,
	}
}

// Register adds an adapter. Must be called before Start.
func (m *Manager) Register(a Adapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := a.Name()
	if _, exists := m.adapters[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	m.adapters[name] = a
	m.logger.Info("adapter registered", "channel", name)
	return nil
}

// Start connects all registered adapters and begins listening. Adapters
// that fail to connect are logged and skipped; at least one must succeed
// unless none are registered.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Adapter, len(m.adapters))
	for k, v := range m.adapters {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no adapters registered, running without chat channels")
		return nil
	}

	var connected int
	for name, a := range snapshot {
		if err := a.Connect(m.ctx); err != nil {
			m.logger.Error("adapter connect failed", "channel", name, "error", err)
			continue
		}
		connected++
		m.logger.Info("adapter connected", "channel", name)
		m.notifyStatus(StatusEvent{Channel: name, Connected: true})

		m.listenWg.Add(1)
		go func(a Adapter) {
			defer m.listenWg.Done()
			m.listenMessages(a)
		}(a)

		if ca, ok := a.(CallbackAdapter); ok {
			m.listenWg.Add(1)
			go func(ca CallbackAdapter) {
				defer m.listenWg.Done()
				m.listenCallbacks(ca)
			}(ca)
		}
	}

	if connected == 0 {
		return fmt.Errorf("no adapter connected successfully")
	}
	return nil
}

// Stop disconnects all adapters, waits for their streams to close, then
// closes the merged streams. Adapters close Receive/Callbacks on disconnect,
// which is what unblocks the listeners.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	for name, a := range m.adapters {
		if err := a.Disconnect(); err != nil {
			m.logger.Error("adapter disconnect failed", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	m.listenWg.Wait()
	close(m.messages)
	close(m.callbacks)
}

// Messages returns the merged stream of incoming messages.
func (m *Manager) Messages() <-chan *IncomingMessage { return m.messages }

// Callbacks returns the merged stream of callback queries.
func (m *Manager) Callbacks() <-chan *CallbackQuery { return m.callbacks }

// Status returns the stream of adapter connect/disconnect events.
func (m *Manager) Status() <-chan StatusEvent { return m.status }

// Adapter returns a registered adapter by name.
func (m *Manager) Adapter(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Names returns the names of all registered adapters.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

// SendText sends a text message via the named adapter and returns the
// platform message ID.
func (m *Manager) SendText(ctx context.Context, channel, chatID string, msg *OutgoingMessage) (string, error) {
	a, ok := m.Adapter(channel)
	if !ok {
		return "", fmt.Errorf("adapter %q not found", channel)
	}
	if !a.IsConnected() {
		return "", fmt.Errorf("adapter %q: %w", channel, ErrDisconnected)
	}
	return a.SendText(ctx, chatID, msg)
}

// SendPhoto sends a photo if the adapter supports media; falls back to a
// plain text mention otherwise.
func (m *Manager) SendPhoto(ctx context.Context, channel, chatID string, photo *MediaMessage) (string, error) {
	a, ok := m.Adapter(channel)
	if !ok {
		return "", fmt.Errorf("adapter %q not found", channel)
	}
	ma, ok := a.(MediaAdapter)
	if !ok {
		return "", ErrMediaUnsupported
	}
	return ma.SendPhoto(ctx, chatID, photo)
}

// SendDocument sends a document if the adapter supports media.
func (m *Manager) SendDocument(ctx context.Context, channel, chatID string, doc *MediaMessage) (string, error) {
	a, ok := m.Adapter(channel)
	if !ok {
		return "", fmt.Errorf("adapter %q not found", channel)
	}
	ma, ok := a.(MediaAdapter)
	if !ok {
		return "", ErrMediaUnsupported
	}
	return ma.SendDocument(ctx, chatID, doc)
}

// EditMessageKeyboard updates a sent message's inline keyboard. No-op error
// when the adapter cannot edit.
func (m *Manager) EditMessageKeyboard(ctx context.Context, channel, chatID, messageID string, buttons []InlineButton) error {
	a, ok := m.Adapter(channel)
	if !ok {
		return fmt.Errorf("adapter %q not found", channel)
	}
	ea, ok := a.(EditAdapter)
	if !ok {
		return ErrEditNotSupported
	}
	return ea.EditMessageKeyboard(ctx, chatID, messageID, buttons)
}

// AnswerCallback acknowledges a callback query on the named adapter.
func (m *Manager) AnswerCallback(ctx context.Context, channel, callbackID, text string) error {
	a, ok := m.Adapter(channel)
	if !ok {
		return fmt.Errorf("adapter %q not found", channel)
	}
	ca, ok := a.(CallbackAdapter)
	if !ok {
		return nil
	}
	return ca.AnswerCallback(ctx, callbackID, text)
}

// SendReaction sets a reaction where supported. Best-effort.
func (m *Manager) SendReaction(ctx context.Context, channel, chatID, messageID, emoji string) {
	a, ok := m.Adapter(channel)
	if !ok {
		return
	}
	if ra, ok := a.(ReactionAdapter); ok {
		if err := ra.SendReaction(ctx, chatID, messageID, emoji); err != nil {
			m.logger.Debug("reaction failed", "channel", channel, "error", err)
		}
	}
}

// SendTyping shows a typing indicator where supported. Best-effort.
func (m *Manager) SendTyping(ctx context.Context, channel, chatID string) {
	a, ok := m.Adapter(channel)
	if !ok {
		return
	}
	if ta, ok := a.(TypingAdapter); ok {
		if err := ta.SendTyping(ctx, chatID); err != nil {
			m.logger.Debug("typing indicator failed", "channel", channel, "error", err)
		}
	}
}

// StartDraft opens a draft stream on edit-capable adapters. Returns
// ErrEditNotSupported otherwise; callers fall back to debounced sends.
func (m *Manager) StartDraft(ctx context.Context, channel, chatID, text string) (DraftStream, error) {
	a, ok := m.Adapter(channel)
	if !ok {
		return nil, fmt.Errorf("adapter %q not found", channel)
	}
	da, ok := a.(DraftStreamAdapter)
	if !ok {
		return nil, ErrEditNotSupported
	}
	return da.StartDraft(ctx, chatID, text)
}

// SupportsDraftStream reports whether the named adapter can edit messages
// in place.
func (m *Manager) SupportsDraftStream(channel string) bool {
	a, ok := m.Adapter(channel)
	if !ok {
		return false
	}
	_, ok = a.(DraftStreamAdapter)
	return ok
}

// NotifyReconnected is called by adapters that re-establish a dropped
// connection on their own (long-poll recovery, websocket resume).
func (m *Manager) NotifyReconnected(channel string) {
	m.notifyStatus(StatusEvent{Channel: channel, Connected: true})
}

func (m *Manager) notifyStatus(ev StatusEvent) {
	select {
	case m.status <- ev:
	default:
		// Status consumers lagging; drop rather than block adapter I/O.
	}
}

func (m *Manager) listenMessages(a Adapter) {
	for msg := range a.Receive() {
		select {
		case m.messages <- msg:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) listenCallbacks(ca CallbackAdapter) {
	for cb := range ca.Callbacks() {
		select {
		case m.callbacks <- cb:
		case <-m.ctx.Done():
			return
		}
	}
}
