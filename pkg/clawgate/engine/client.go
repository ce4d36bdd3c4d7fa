// client.go implements the Engine contract over the engine daemon's HTTP
// API. The daemon runs next to the gateway; calls are plain JSON POSTs and
// events arrive over a long-poll loop.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Client talks to the engine daemon.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu      sync.RWMutex
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates an engine client for the given base URL and starts the
// event poll loop.
func NewClient(ctx context.Context, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 65 * time.Second},
		logger:  logger.With("component", "engine"),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.pollEvents()
	return c
}

// Close stops the event poll loop.
func (c *Client) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// SetHandler registers the gateway's event handler.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// StartTask begins executing a new task.
func (c *Client) StartTask(ctx context.Context, req StartRequest) error {
	return c.post(ctx, "/tasks/start", req, nil)
}

// SendFollowUp delivers an additional user message to a running task.
func (c *Client) SendFollowUp(ctx context.Context, taskID, message string) error {
	return c.post(ctx, "/tasks/followup", map[string]string{
		"task_id": taskID, "message": message,
	}, nil)
}

// CancelTask requests cancellation of a task.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/cancel", map[string]string{"task_id": taskID}, nil)
}

// RespondToApproval resolves a pending approval on the engine side.
func (c *Client) RespondToApproval(ctx context.Context, approvalID string, approved bool) (ApprovalOutcome, error) {
	var out struct {
		Outcome ApprovalOutcome `json:"outcome"`
	}
	err := c.post(ctx, "/approvals/respond", map[string]any{
		"approval_id": approvalID, "approved": approved,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Outcome, nil
}

// RegisterArtifact records a file as a task artifact.
func (c *Client) RegisterArtifact(ctx context.Context, taskID, path string) error {
	return c.post(ctx, "/tasks/artifact", map[string]string{
		"task_id": taskID, "path": path,
	}, nil)
}

// AppendLog attaches a structured log event to a task.
func (c *Client) AppendLog(ctx context.Context, taskID, event string, fields map[string]any) error {
	return c.post(ctx, "/tasks/log", map[string]any{
		"task_id": taskID, "event": event, "fields": fields,
	}, nil)
}

// Transcribe sends a spooled audio file to the engine's transcription
// endpoint. The file lives on a shared filesystem with the daemon, so only
// the path travels over the wire.
func (c *Client) Transcribe(ctx context.Context, path, mimeType string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.post(ctx, "/transcribe", map[string]string{
		"path": path, "mime_type": mimeType,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// QueueStatus reports the engine queue depth.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var out QueueStatus
	if err := c.post(ctx, "/queue/status", nil, &out); err != nil {
		return QueueStatus{}, err
	}
	return out, nil
}

// ClearStuckTasks aborts tasks wedged in non-terminal states.
func (c *Client) ClearStuckTasks(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := c.post(ctx, "/queue/clear-stuck", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

// pollEvents long-polls /events and feeds each event to the handler.
func (c *Client) pollEvents() {
	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		events, err := c.fetchEvents()
		if err != nil {
			c.logger.Warn("engine event poll failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-c.ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h == nil {
			continue
		}
		for _, ev := range events {
			h(ev)
		}
	}
}

func (c *Client) fetchEvents() ([]Event, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.baseURL+"/events?wait=60", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events: status %d", resp.StatusCode)
	}
	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("engine: encode %s: %w", path, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("engine: request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine: %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("engine: decode %s response: %w", path, err)
		}
	}
	return nil
}

var (
	_ Engine      = (*Client)(nil)
	_ Transcriber = (*Client)(nil)
)
