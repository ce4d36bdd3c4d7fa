// Package console implements a local terminal adapter for ClawGate using
// chzyer/readline. It is the trusted operator surface: pairing codes are
// issued from here, and everything typed runs as the local operator.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// ChatID is the single pseudo-chat the console represents.
const ChatID = "console"

// OperatorID is the sender identity for everything typed locally.
const OperatorID = "operator"

// Config holds console adapter configuration.
type Config struct {
	// Prompt is the readline prompt. Defaults to "clawgate> ".
	Prompt string

	// HistoryFile persists input history across runs.
	HistoryFile string
}

// Console implements channels.Adapter. It has no media, edit or callback
// support; the router falls back to plain text flows.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl       *readline.Instance
	messages chan *channels.IncomingMessage

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a console adapter.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "clawgate> "
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		messages: make(chan *channels.IncomingMessage, 64),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline instance and starts the input loop.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	c.rl = rl
	c.connected.Store(true)

	go c.readLoop()
	return nil
}

// Disconnect closes the readline instance, which unblocks the read loop.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		c.rl.Close()
	}
	return nil
}

// SendText prints a message to the terminal above the prompt. Console
// messages have no real IDs; a timestamp stands in.
func (c *Console) SendText(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	if !c.connected.Load() || c.rl == nil {
		return "", channels.ErrDisconnected
	}
	fmt.Fprintln(c.rl.Stdout(), msg.Content)
	return strconv.FormatInt(time.Now().UnixNano(), 10), nil
}

// Receive returns the incoming message stream.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected reports whether the input loop is running.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the adapter health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     c.connected.Load(),
		LastMessageAt: lastAt,
	}
}

// readLoop feeds typed lines into the message stream until readline closes.
func (c *Console) readLoop() {
	defer close(c.messages)

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err != io.EOF {
				c.logger.Warn("console read error", "error", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		now := time.Now()
		c.lastMsg.Store(now)
		msg := &channels.IncomingMessage{
			ID:        strconv.FormatInt(now.UnixNano(), 10),
			Channel:   "console",
			From:      OperatorID,
			FromName:  "Operator",
			ChatID:    ChatID,
			Type:      channels.MessageText,
			Content:   line,
			Timestamp: now,
		}
		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

var _ channels.Adapter = (*Console)(nil)
