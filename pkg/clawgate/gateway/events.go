// events.go is the outbound half of the router: asynchronous engine events
// are delivered back to the chat that owns the task. Terminal events consume
// the route; a missing route is a graceful no-op (the task finished twice,
// or its chat is gone).
package gateway

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// maxParentHops bounds the parent walk when a sub-task event has no route of
// its own.
const maxParentHops = 12

func (g *Gateway) handleEngineEvent(ctx context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventPartial:
		if route, ok := g.routes.Get(ev.TaskID); ok {
			g.stream.OnPartial(ctx, route, ev.Message)
		}
	case engine.EventApprovalRequest:
		g.deliverApproval(ctx, ev)
	case engine.EventCompleted:
		g.deliverCompletion(ctx, ev)
	case engine.EventFailed:
		g.deliverTerminal(ctx, ev, store.TaskFailed)
	case engine.EventCancelled:
		g.deliverTerminal(ctx, ev, store.TaskCancelled)
	case engine.EventArtifact:
		g.recordArtifact(ev)
	default:
		g.logger.Debug("unknown engine event", "type", ev.Type, "task", ev.TaskID)
	}
}

// routeFor finds the delivery route for a task, walking up the parent chain
// when the task itself is unrouted (sub-agent tasks surface approvals
// through their root conversation).
func (g *Gateway) routeFor(taskID string) (*Route, bool) {
	if r, ok := g.routes.Get(taskID); ok {
		return r, true
	}
	id := taskID
	for hop := 0; hop < maxParentHops; hop++ {
		task, err := g.store.FindTask(id)
		if err != nil || task.ParentTaskID == "" {
			return nil, false
		}
		id = task.ParentTaskID
		if r, ok := g.routes.Get(id); ok {
			return r, true
		}
	}
	return nil, false
}

func (g *Gateway) deliverApproval(ctx context.Context, ev engine.Event) {
	route, ok := g.routeFor(ev.TaskID)
	if !ok {
		g.logger.Warn("approval request with no route", "task", ev.TaskID, "approval", ev.ApprovalID)
		return
	}

	// Buffered partials go out first so the prompt reads in order.
	g.stream.Flush(ctx, ev.TaskID)

	text := "🔐 Approval needed:\n" + strings.TrimSpace(ev.Message)
	out := &channels.OutgoingMessage{Content: text, ReplyTo: route.LastMessageID}

	if g.supportsCallbacks(route.Channel) {
		out.Buttons = []channels.InlineButton{
			{Text: "✅ Approve", Data: EncodeCallback(CallbackApprove, ev.ApprovalID)},
			{Text: "🚫 Deny", Data: EncodeCallback(CallbackDeny, ev.ApprovalID)},
		}
	} else {
		out.Content += "\n\nReply /approve or /deny."
	}

	msgID, err := g.channels.SendText(ctx, route.Channel, route.ChatID, out)
	if err != nil {
		g.logger.Error("approval prompt send failed", "task", ev.TaskID, "error", err)
		return
	}

	g.approvals.Put(&Approval{
		ID:        ev.ApprovalID,
		TaskID:    ev.TaskID,
		Channel:   route.Channel,
		ChatID:    route.ChatID,
		Requester: route.Requester,
		MessageID: msgID,
	})
	if len(out.Buttons) > 0 {
		g.guards.Put(&Guard{
			Key:       GuardKey(route.Channel, route.ChatID, msgID),
			Requester: route.Requester,
			TaskID:    ev.TaskID,
		}, GuardTTL)
	}
	g.auditOutgoing(route.SessionID, text, true)
}

func (g *Gateway) deliverCompletion(ctx context.Context, ev engine.Event) {
	if err := g.store.SetTaskStatus(ev.TaskID, store.TaskCompleted, ""); err != nil {
		g.logger.Debug("completion status update failed", "task", ev.TaskID, "error", err)
	}

	route, ok := g.routes.Consume(ev.TaskID)
	if !ok {
		// Already delivered, or a sub-task nobody is watching.
		g.stream.Discard(ctx, ev.TaskID)
		return
	}
	if err := g.store.UnlinkSessionTask(route.SessionID, ev.TaskID); err != nil {
		g.logger.Debug("session unlink failed", "session", route.SessionID, "error", err)
	}

	final := strings.TrimSpace(ev.Message)
	if final == "" {
		final = "Done."
	}
	chunks := SplitMessage(final, channels.MaxMessageLength(route.Channel))

	var lastID string
	if id, viaDraft := g.stream.FinalizeDraft(ctx, ev.TaskID, chunks[0]); viaDraft {
		lastID = id
		chunks = chunks[1:]
	} else {
		// The final message supersedes any buffered partial.
		g.stream.Discard(ctx, ev.TaskID)
	}
	for i, chunk := range chunks {
		out := &channels.OutgoingMessage{Content: chunk}
		if lastID == "" && i == 0 {
			out.ReplyTo = route.LastMessageID
		}
		id, err := g.channels.SendText(ctx, route.Channel, route.ChatID, out)
		if err != nil {
			g.logger.Error("completion send failed", "task", ev.TaskID, "error", err)
			break
		}
		lastID = id
	}
	g.auditOutgoing(route.SessionID, final, false)
	g.channels.SendReaction(ctx, route.Channel, route.ChatID, route.LastMessageID, "✅")

	g.deliverArtifacts(ctx, route, ev.TaskID)
	g.offerFeedback(ctx, route, ev.TaskID, lastID)
}

// offerFeedback attaches good/bad feedback controls to the completion
// message. DM-only: in a group the controls would invite hijacking and
// noise.
func (g *Gateway) offerFeedback(ctx context.Context, route *Route, taskID, messageID string) {
	if messageID == "" || !g.supportsCallbacks(route.Channel) {
		return
	}
	task, err := g.store.FindTask(taskID)
	if err != nil || task.AgentConfig.GatewayContext != engine.ContextPrivate {
		return
	}

	buttons := []channels.InlineButton{
		{Text: "👍", Data: EncodeCallback(CallbackFeedback, "good")},
		{Text: "👎", Data: EncodeCallback(CallbackFeedback, "bad")},
	}
	if err := g.channels.EditMessageKeyboard(ctx, route.Channel, route.ChatID, messageID, buttons); err != nil {
		g.logger.Debug("feedback keyboard failed", "task", taskID, "error", err)
		return
	}
	g.guards.Put(&Guard{
		Key:       GuardKey(route.Channel, route.ChatID, messageID),
		Requester: route.Requester,
		TaskID:    taskID,
	}, FeedbackGuardTTL)
}

func (g *Gateway) deliverTerminal(ctx context.Context, ev engine.Event, status store.TaskStatus) {
	// Clear streaming state before any notification so a buffered partial
	// can never land after the terminal message.
	g.stream.Discard(ctx, ev.TaskID)

	errMsg := ""
	if status == store.TaskFailed {
		errMsg = ev.Message
	}
	if err := g.store.SetTaskStatus(ev.TaskID, status, errMsg); err != nil {
		g.logger.Debug("terminal status update failed", "task", ev.TaskID, "error", err)
	}

	route, ok := g.routes.Consume(ev.TaskID)
	if !ok {
		return
	}
	if err := g.store.UnlinkSessionTask(route.SessionID, ev.TaskID); err != nil {
		g.logger.Debug("session unlink failed", "session", route.SessionID, "error", err)
	}

	var text string
	if status == store.TaskFailed {
		text = "❌ Task failed"
		if m := strings.TrimSpace(ev.Message); m != "" {
			text += ": " + m
		}
	} else {
		text = "🛑 Task cancelled."
	}
	g.reply(ctx, route.Channel, route.ChatID, route.LastMessageID, text)
	g.auditOutgoing(route.SessionID, text, true)
	g.channels.SendReaction(ctx, route.Channel, route.ChatID, route.LastMessageID, "❌")
}

func (g *Gateway) recordArtifact(ev engine.Event) {
	if ev.ArtifactPath == "" {
		return
	}
	err := g.store.CreateArtifact(&store.Artifact{
		TaskID:   ev.TaskID,
		Path:     ev.ArtifactPath,
		MimeType: mimeByExt(ev.ArtifactPath),
	})
	if err != nil {
		g.logger.Warn("artifact record failed", "task", ev.TaskID, "path", ev.ArtifactPath, "error", err)
	}
}

// deliverArtifacts sends a finished task's files: known image extensions as
// photos, everything else as documents, with a plain-text fallback when the
// adapter has no media support.
func (g *Gateway) deliverArtifacts(ctx context.Context, route *Route, taskID string) {
	artifacts, err := g.store.TaskArtifacts(taskID)
	if err != nil {
		g.logger.Warn("artifact lookup failed", "task", taskID, "error", err)
		return
	}
	for _, a := range artifacts {
		media := &channels.MediaMessage{
			Path:     a.Path,
			MimeType: a.MimeType,
			Filename: filepath.Base(a.Path),
		}
		var serr error
		if isImagePath(a.Path) {
			media.Type = channels.MessageImage
			_, serr = g.channels.SendPhoto(ctx, route.Channel, route.ChatID, media)
		} else {
			media.Type = channels.MessageDocument
			_, serr = g.channels.SendDocument(ctx, route.Channel, route.ChatID, media)
		}
		if serr != nil {
			g.reply(ctx, route.Channel, route.ChatID, "", "📎 Artifact saved at "+a.Path)
		}
	}
}

func (g *Gateway) supportsCallbacks(channel string) bool {
	a, ok := g.channels.Adapter(channel)
	if !ok {
		return false
	}
	_, ok = a.(channels.CallbackAdapter)
	return ok
}

func isImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

func mimeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md", ".log":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".zip":
		return "application/zip"
	}
	return "application/octet-stream"
}
