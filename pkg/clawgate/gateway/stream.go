// stream.go implements streamed partial-output delivery. Edit-capable
// adapters get a draft stream (one message edited in place); everything else
// gets buffer-and-debounce: within one debounce window a burst of N partial
// updates produces a single send carrying the latest text, so platforms
// without edit support are never flooded.
//
// Ordering invariant: any non-streaming send for a task must flush or
// discard that task's buffer first, so a final message is never overtaken
// by a stale partial one.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// DefaultDebounceWindow is the coalescing window for non-edit platforms.
const DefaultDebounceWindow = 1200 * time.Millisecond

// streamBuffer holds the latest not-yet-sent partial text for one task.
type streamBuffer struct {
	latest string
	route  Route
	timer  *time.Timer
}

// StreamCoordinator owns all per-task streaming state: debounce buffers and
// live draft streams. One mutex serializes all mutations.
type StreamCoordinator struct {
	mgr    *channels.Manager
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	buffers map[string]*streamBuffer
	drafts  map[string]channels.DraftStream

	// sendLocks serialize the network send for one task against Discard, so
	// a debounced partial already past the buffer check can never land after
	// a terminal notification.
	sendLocks map[string]*sync.Mutex
}

// NewStreamCoordinator creates the coordinator. A zero window uses the
// default.
func NewStreamCoordinator(mgr *channels.Manager, window time.Duration, logger *slog.Logger) *StreamCoordinator {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamCoordinator{
		mgr:       mgr,
		window:    window,
		logger:    logger.With("component", "stream"),
		buffers:   make(map[string]*streamBuffer),
		drafts:    make(map[string]channels.DraftStream),
		sendLocks: make(map[string]*sync.Mutex),
	}
}

// OnPartial handles one streamed update for a task. Draft-capable adapters
// get an in-place edit; others get the debounced buffer.
func (c *StreamCoordinator) OnPartial(ctx context.Context, r *Route, text string) {
	if c.mgr.SupportsDraftStream(r.Channel) {
		c.updateDraft(ctx, r, text)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.buffers[r.TaskID]
	if !ok {
		buf = &streamBuffer{route: *r}
		c.buffers[r.TaskID] = buf
	}
	buf.latest = text

	// One timer per window: the first update in a window arms it, later
	// updates just replace the text, and the fire sends the most recent.
	if buf.timer == nil {
		taskID := r.TaskID
		buf.timer = time.AfterFunc(c.window, func() { c.fire(taskID) })
	}
}

// Flush cancels the pending timer and sends any buffered text immediately.
// Used before interleaved non-streaming sends (approval prompts) so partial
// output is never delivered out of order.
func (c *StreamCoordinator) Flush(ctx context.Context, taskID string) {
	c.mu.Lock()
	buf, ok := c.buffers[taskID]
	if ok {
		delete(c.buffers, taskID)
		if buf.timer != nil {
			buf.timer.Stop()
		}
	}
	sm := c.sendLockLocked(taskID)
	c.mu.Unlock()

	sm.Lock()
	defer sm.Unlock()
	if !ok || buf.latest == "" {
		return
	}
	c.sendBuffered(ctx, buf.route, taskID, buf.latest)
}

// Discard synchronously clears the buffer and any draft stream for a task
// without sending. Completion discards (the final message supersedes the
// partial); failure and cancellation discard before notifying the chat so a
// buffered send can never fire afterwards. Discard does not return while a
// debounced send for the task is still on the wire.
func (c *StreamCoordinator) Discard(ctx context.Context, taskID string) {
	c.mu.Lock()
	buf, hadBuf := c.buffers[taskID]
	if hadBuf {
		delete(c.buffers, taskID)
		if buf.timer != nil {
			buf.timer.Stop()
		}
	}
	draft, hadDraft := c.drafts[taskID]
	if hadDraft {
		delete(c.drafts, taskID)
	}
	sm := c.sendLockLocked(taskID)
	delete(c.sendLocks, taskID)
	c.mu.Unlock()

	// Wait out an in-flight debounced send; any fire that has not reached
	// the lock yet will find the buffer gone and skip.
	sm.Lock()
	sm.Unlock()

	if hadDraft {
		if err := draft.Cancel(ctx); err != nil {
			c.logger.Debug("draft cancel failed", "task", taskID, "error", err)
		}
	}
}

// FinalizeDraft writes the final text into a task's draft stream, if one is
// live, and returns the platform message ID. ok is false when the task was
// not draft-streaming.
func (c *StreamCoordinator) FinalizeDraft(ctx context.Context, taskID, text string) (string, bool) {
	c.mu.Lock()
	draft, ok := c.drafts[taskID]
	if ok {
		delete(c.drafts, taskID)
	}
	c.mu.Unlock()

	if !ok {
		return "", false
	}
	id, err := draft.Finalize(ctx, text)
	if err != nil {
		c.logger.Warn("draft finalize failed", "task", taskID, "error", err)
		return "", false
	}
	return id, true
}

func (c *StreamCoordinator) updateDraft(ctx context.Context, r *Route, text string) {
	c.mu.Lock()
	draft, ok := c.drafts[r.TaskID]
	c.mu.Unlock()

	if ok {
		if err := draft.Update(ctx, text); err != nil {
			c.logger.Debug("draft update failed", "task", r.TaskID, "error", err)
		}
		return
	}

	draft, err := c.mgr.StartDraft(ctx, r.Channel, r.ChatID, text)
	if err != nil {
		c.logger.Warn("draft start failed, dropping partial", "task", r.TaskID, "error", err)
		return
	}
	c.mu.Lock()
	// Lost a start race: keep the first draft, cancel ours.
	if existing, dup := c.drafts[r.TaskID]; dup {
		c.mu.Unlock()
		_ = draft.Cancel(ctx)
		if err := existing.Update(ctx, text); err != nil {
			c.logger.Debug("draft update failed", "task", r.TaskID, "error", err)
		}
		return
	}
	c.drafts[r.TaskID] = draft
	c.mu.Unlock()
}

// fire is the debounce timer callback: send the latest buffered text and
// re-arm only when new text arrives.
func (c *StreamCoordinator) fire(taskID string) {
	c.mu.Lock()
	buf, ok := c.buffers[taskID]
	if !ok {
		c.mu.Unlock()
		return
	}
	text := buf.latest
	buf.latest = ""
	buf.timer = nil
	route := buf.route
	if text == "" {
		delete(c.buffers, taskID)
		c.mu.Unlock()
		return
	}
	sm := c.sendLockLocked(taskID)
	c.mu.Unlock()

	sm.Lock()
	defer sm.Unlock()

	// A Discard may have won the race to the send lock; the same buffer
	// pointer still being registered means the task is live.
	c.mu.Lock()
	live := c.buffers[taskID] == buf
	c.mu.Unlock()
	if !live {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.sendBuffered(ctx, route, taskID, text)
}

// sendBuffered delivers one coalesced partial, split to the platform limit.
func (c *StreamCoordinator) sendBuffered(ctx context.Context, route Route, taskID, text string) {
	limit := channels.MaxMessageLength(route.Channel)
	for _, chunk := range SplitMessage(text, limit) {
		if _, err := c.mgr.SendText(ctx, route.Channel, route.ChatID,
			&channels.OutgoingMessage{Content: chunk}); err != nil {
			c.logger.Warn("debounced send failed", "task", taskID, "error", err)
			return
		}
	}
}

// sendLockLocked returns the per-task send lock, creating it as needed.
// Caller holds c.mu.
func (c *StreamCoordinator) sendLockLocked(taskID string) *sync.Mutex {
	sm, ok := c.sendLocks[taskID]
	if !ok {
		sm = &sync.Mutex{}
		c.sendLocks[taskID] = sm
	}
	return sm
}
