// pipeline.go is the inbound half of the router: one inbound message flows
// through access check, audit (denied traffic is logged too), attachment
// handling, sub-flow capture (pending selection / pending feedback), command
// dispatch, and finally task routing. Callback queries take a parallel,
// shorter path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/access"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

const voicePlaceholder = "[voice message: transcription unavailable]"

func (g *Gateway) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	if strings.TrimSpace(msg.Content) == "" && msg.Media == nil {
		return
	}

	decision, err := g.policy.Decide(msg.Channel, msg, msg.IsGroup)
	if err != nil {
		g.logger.Error("access decision failed", "channel", msg.Channel, "from", msg.From, "error", err)
		return
	}

	sess, err := g.store.GetOrCreateSession(msg.Channel, msg.ChatID, g.cfg.DefaultWorkspaceID)
	if err != nil {
		g.logger.Error("session resolve failed", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		if decision.Allowed && !decision.PairingRequired {
			g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Something went wrong on my side, please try again.")
		}
		return
	}

	// Denied traffic still lands in the transcript: the audit trail records
	// what was said, not just what was acted on.
	if decision.PairingRequired || !decision.Allowed {
		g.auditIncoming(sess, msg, strings.TrimSpace(msg.Content), nil)
		if decision.PairingRequired {
			g.handleUnpaired(ctx, msg, decision)
		}
		return
	}

	snapshot := &store.SenderSnapshot{UserID: msg.From, Name: msg.FromName}
	if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{LastSender: snapshot}); err != nil {
		g.logger.Debug("sender snapshot update failed", "session", sess.ID, "error", err)
	}
	sess.Context.LastSender = snapshot

	content, attachments := g.prepareContent(ctx, msg, sess)
	g.auditIncoming(sess, msg, content, attachments)
	if content == "" && len(attachments) == 0 {
		return
	}

	if !strings.HasPrefix(content, "/") {
		if g.handlePendingSelection(ctx, sess, msg, content) {
			return
		}
		if g.handlePendingFeedback(ctx, sess, msg, decision, content) {
			return
		}
	}

	if strings.HasPrefix(content, "/") {
		g.commands.Dispatch(ctx, &CommandContext{
			Msg:      msg,
			Session:  sess,
			Decision: decision,
			Line:     content,
		})
		return
	}

	g.routeToTask(ctx, sess, msg, decision, content, attachments)
}

// handleUnpaired deals with senders on a pairing-required policy. A message
// shaped like a pairing code is treated as a redemption attempt; anything
// else gets the pairing prompt in DMs and silence in groups.
func (g *Gateway) handleUnpaired(ctx context.Context, msg *channels.IncomingMessage, decision access.Decision) {
	content := strings.TrimSpace(msg.Content)
	content = strings.TrimPrefix(content, "/pair ")

	if access.LooksLikePairingCode(content) {
		ok, err := g.policy.VerifyPairing(msg.Channel, decision.User.ID, content)
		if err != nil {
			g.logger.Error("pairing verification failed", "channel", msg.Channel, "error", err)
			g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Pairing failed, please try again.")
			return
		}
		if ok {
			g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "✅ Paired. You can talk to me now — try /help.")
		} else {
			g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "That code is invalid or expired.")
		}
		return
	}

	// Groups stay silent: an unpaired stranger must not be able to make
	// the bot talk.
	if msg.IsGroup {
		return
	}
	g.reply(ctx, msg.Channel, msg.ChatID, msg.ID,
		"This chat is not paired yet. Send your pairing code to continue.")
}

// prepareContent resolves attachments into workspace files and voice notes
// into text. Adapters that downloaded media leave the local path in
// Metadata["local_path"].
func (g *Gateway) prepareContent(ctx context.Context, msg *channels.IncomingMessage, sess *store.Session) (string, []string) {
	content := strings.TrimSpace(msg.Content)
	if msg.Media == nil {
		return content, nil
	}

	localPath, _ := msg.Metadata["local_path"].(string)
	if content == "" {
		content = strings.TrimSpace(msg.Media.Caption)
	}

	if msg.Media.Type == channels.MessageAudio {
		text := voicePlaceholder
		if g.transcriber != nil && localPath != "" {
			if out, err := g.transcriber.Transcribe(ctx, localPath, msg.Media.MimeType); err == nil {
				text = strings.TrimSpace(out)
			} else {
				g.logger.Warn("transcription failed", "channel", msg.Channel, "error", err)
			}
		}
		if content == "" {
			return text, nil
		}
		return content + "\n" + text, nil
	}

	if localPath == "" {
		return content, nil
	}
	dest, err := g.stashAttachment(sess, localPath, msg.Media.Filename)
	if err != nil {
		g.logger.Warn("attachment stash failed", "channel", msg.Channel, "error", err)
		return content, nil
	}
	return content, []string{dest}
}

// stashAttachment copies a downloaded file into the session workspace under
// attachments/, named with a unix-timestamp prefix to avoid collisions. The
// returned path is relative to the workspace root, so the engine's
// workspace-scoped tooling can open it directly.
func (g *Gateway) stashAttachment(sess *store.Session, srcPath, filename string) (string, error) {
	ws, err := g.store.FindWorkspace(sess.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	if filename == "" {
		filename = filepath.Base(srcPath)
	}
	if err := os.MkdirAll(filepath.Join(ws.Path, "attachments"), 0o755); err != nil {
		return "", fmt.Errorf("create attachments dir: %w", err)
	}
	rel := filepath.Join("attachments", fmt.Sprintf("%d-%s", time.Now().Unix(), filepath.Base(filename)))

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer src.Close()
	out, err := os.Create(filepath.Join(ws.Path, rel))
	if err != nil {
		return "", fmt.Errorf("create attachment copy: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("copy attachment: %w", err)
	}
	return rel, nil
}

// handlePendingSelection consumes a bare-number reply when a selection
// sub-flow is pending. Non-numeric messages flow through untouched.
func (g *Gateway) handlePendingSelection(ctx context.Context, sess *store.Session, msg *channels.IncomingMessage, content string) bool {
	ps := sess.Context.PendingSelection
	if ps == nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(content))
	if err != nil {
		return false
	}
	if msg.IsGroup && ps.Requester != "" && msg.From != ps.Requester {
		return false
	}

	if time.Now().After(ps.ExpiresAt) {
		g.clearSelection(sess)
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "That selection expired — run the command again.")
		return true
	}
	if n < 1 || n > len(ps.Options) {
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID,
			fmt.Sprintf("Pick a number between 1 and %d.", len(ps.Options)))
		return true
	}

	g.clearSelection(sess)
	reply, err := g.applySelection(ctx, sess, ps.Kind, ps.Options[n-1])
	if err != nil {
		g.logger.Error("selection apply failed", "session", sess.ID, "kind", ps.Kind, "error", err)
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Couldn't apply that selection, please try again.")
		return true
	}
	g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, reply)
	return true
}

// handlePendingFeedback captures the next plain message from the requester
// as feedback text for the marked task.
func (g *Gateway) handlePendingFeedback(ctx context.Context, sess *store.Session, msg *channels.IncomingMessage, decision access.Decision, content string) bool {
	pf := sess.Context.PendingFeedback
	if pf == nil {
		return false
	}
	if pf.Requester != "" && msg.From != pf.Requester {
		return false
	}
	if time.Now().After(pf.ExpiresAt) {
		g.clearFeedback(sess)
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "The feedback window expired — use the feedback button or /feedback again.")
		return true
	}

	g.clearFeedback(sess)

	task, err := g.store.FindTask(pf.TaskID)
	if err != nil {
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "I couldn't find that task anymore, sorry.")
		return true
	}

	if !task.Status.Terminal() {
		if err := g.engine.SendFollowUp(ctx, task.ID, "User feedback: "+content); err != nil {
			g.logger.Error("feedback follow-up failed", "task", task.ID, "error", err)
			g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Couldn't deliver that feedback, please try again.")
			return true
		}
		g.routes.Put(&Route{
			TaskID: task.ID, Channel: msg.Channel, ChatID: msg.ChatID,
			SessionID: sess.ID, Requester: msg.From, LastMessageID: msg.ID,
		})
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Got it, passing that along.")
		return true
	}

	// The task already finished: feedback spawns a follow-up task that
	// inherits the original's workspace and policy.
	prompt := fmt.Sprintf("The user reviewed the result of the task %q and asked for changes:\n\n%s", task.Title, content)
	if _, err := g.startTask(ctx, sess, msg, decision, "Rework: "+task.Title, prompt, task.ID); err != nil {
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Couldn't start the rework task, please try again.")
		return true
	}
	g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Got it, working on the changes.")
	return true
}

// routeToTask is the plain-message path: follow up on the session's running
// task, or start a new one.
func (g *Gateway) routeToTask(ctx context.Context, sess *store.Session, msg *channels.IncomingMessage, decision access.Decision, content string, attachments []string) {
	g.channels.SendTyping(ctx, msg.Channel, msg.ChatID)

	prompt := content
	if len(attachments) > 0 {
		prompt += "\n\nAttached files:"
		for _, a := range attachments {
			prompt += "\n- " + a
		}
	}

	if sess.TaskID != "" {
		task, err := g.store.FindTask(sess.TaskID)
		if err == nil && !task.Status.Terminal() {
			if err := g.engine.SendFollowUp(ctx, task.ID, prompt); err != nil {
				g.logger.Error("follow-up failed", "task", task.ID, "error", err)
				g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Couldn't reach the running task, please try again.")
				return
			}
			// Re-register so delivery tracks the latest message and sender.
			g.routes.Put(&Route{
				TaskID: task.ID, Channel: msg.Channel, ChatID: msg.ChatID,
				SessionID: sess.ID, Requester: msg.From, LastMessageID: msg.ID,
			})
			g.channels.SendReaction(ctx, msg.Channel, msg.ChatID, msg.ID, "👀")
			return
		}
	}

	if _, err := g.startTask(ctx, sess, msg, decision, taskTitle(content), prompt, ""); err != nil {
		g.reply(ctx, msg.Channel, msg.ChatID, msg.ID, "Couldn't start that task, please try again.")
	}
}

// startTask persists a task, hands it to the engine and registers the
// delivery route. A failed engine start rolls the task row back so no
// phantom pending task survives.
func (g *Gateway) startTask(ctx context.Context, sess *store.Session, msg *channels.IncomingMessage, decision access.Decision, title, prompt, parentID string) (*store.Task, error) {
	ctxKind := engine.ContextPrivate
	if msg.IsGroup {
		ctxKind = engine.ContextGroup
	}
	task := &store.Task{
		WorkspaceID:  sess.WorkspaceID,
		Title:        title,
		Prompt:       prompt,
		ParentTaskID: parentID,
		AgentConfig: engine.AgentConfig{
			GatewayContext:   ctxKind,
			ToolRestrictions: decision.DeniedTools,
		},
	}
	if err := g.store.CreateTask(task); err != nil {
		g.logger.Error("task create failed", "session", sess.ID, "error", err)
		return nil, err
	}

	err := g.engine.StartTask(ctx, engine.StartRequest{
		TaskID:       task.ID,
		WorkspaceID:  task.WorkspaceID,
		Title:        task.Title,
		Prompt:       task.Prompt,
		ParentTaskID: parentID,
		Provider:     sess.Context.Provider,
		Model:        sess.Context.Model,
		Config:       task.AgentConfig,
	})
	if err != nil {
		g.logger.Error("engine start failed", "task", task.ID, "error", err)
		if derr := g.store.DeleteTask(task.ID); derr != nil {
			g.logger.Error("task rollback failed", "task", task.ID, "error", derr)
		}
		return nil, err
	}

	if err := g.store.LinkSessionTask(sess.ID, task.ID); err != nil {
		g.logger.Error("session link failed", "session", sess.ID, "task", task.ID, "error", err)
	}
	sess.TaskID = task.ID

	g.routes.Put(&Route{
		TaskID: task.ID, Channel: msg.Channel, ChatID: msg.ChatID,
		SessionID: sess.ID, Requester: msg.From, LastMessageID: msg.ID,
	})
	g.channels.SendReaction(ctx, msg.Channel, msg.ChatID, msg.ID, "👀")
	g.logger.Info("task started", "task", task.ID, "session", sess.ID, "title", title)
	return task, nil
}

// handleCallback processes one inline button press.
func (g *Gateway) handleCallback(ctx context.Context, cb *channels.CallbackQuery) {
	action, err := ParseCallback(cb.Data)
	if err != nil {
		g.logger.Debug("callback rejected", "channel", cb.Channel, "data", cb.Data, "error", err)
		g.answerCallback(ctx, cb, "Unsupported action.")
		return
	}

	key := GuardKey(cb.Channel, cb.ChatID, cb.MessageID)
	switch action.Kind {
	case CallbackApprove, CallbackDeny:
		g.resolveApprovalPress(ctx, cb, action, key)
	case CallbackFeedback:
		g.feedbackPress(ctx, cb, action, key)
	case CallbackWorkspace, CallbackProvider, CallbackModel:
		g.selectionPress(ctx, cb, action, key)
	case CallbackCancelTask:
		if err := g.engine.CancelTask(ctx, action.Param); err != nil {
			g.answerCallback(ctx, cb, "Couldn't cancel.")
			return
		}
		g.answerCallback(ctx, cb, "Cancelling…")
	}
}

func (g *Gateway) resolveApprovalPress(ctx context.Context, cb *channels.CallbackQuery, action *CallbackAction, key string) {
	a, state := g.approvals.Resolve(action.Param, cb.From, true)
	switch state {
	case ResolveNotFound:
		g.answerCallback(ctx, cb, "This approval is no longer pending.")
		return
	case ResolveExpired:
		g.answerCallback(ctx, cb, "This approval expired.")
		g.dropKeyboard(ctx, cb)
		return
	case ResolveForbidden:
		g.answerCallback(ctx, cb, "Only the requester can respond to this.")
		return
	case ResolveDuplicate:
		g.answerCallback(ctx, cb, "Already handled.")
		return
	}

	approved := action.Kind == CallbackApprove
	outcome, err := g.engine.RespondToApproval(ctx, action.Param, approved)
	if err != nil {
		g.logger.Error("approval forward failed", "approval", action.Param, "error", err)
		g.answerCallback(ctx, cb, "Couldn't deliver the decision, try /approve.")
		return
	}
	g.approvals.Remove(action.Param)
	g.guards.Consume(key)
	g.dropKeyboard(ctx, cb)

	switch outcome {
	case engine.ApprovalHandled:
		if approved {
			g.answerCallback(ctx, cb, "✅ Approved")
		} else {
			g.answerCallback(ctx, cb, "🚫 Denied")
		}
		g.logger.Info("approval resolved", "approval", action.Param, "task", a.TaskID, "approved", approved, "by", cb.From)
	case engine.ApprovalDuplicate:
		g.answerCallback(ctx, cb, "Already handled.")
	default:
		g.answerCallback(ctx, cb, "The engine no longer knows this approval.")
	}
}

func (g *Gateway) feedbackPress(ctx context.Context, cb *channels.CallbackQuery, action *CallbackAction, key string) {
	guard, ok := g.guards.Peek(key)
	if !ok {
		g.answerCallback(ctx, cb, "These controls expired — use /feedback instead.")
		g.dropKeyboard(ctx, cb)
		return
	}
	if guard.Requester != "" && cb.From != guard.Requester {
		g.answerCallback(ctx, cb, "Only the requester can leave feedback here.")
		return
	}
	g.guards.Consume(key)
	g.dropKeyboard(ctx, cb)

	if action.Param == "good" {
		if err := g.engine.AppendLog(ctx, guard.TaskID, "feedback", map[string]any{"sentiment": "good", "user": cb.From}); err != nil {
			g.logger.Debug("feedback log failed", "task", guard.TaskID, "error", err)
		}
		g.answerCallback(ctx, cb, "Thanks!")
		return
	}

	sess, err := g.store.FindSessionByChat(cb.Channel, cb.ChatID)
	if err != nil {
		g.answerCallback(ctx, cb, "Couldn't open the feedback flow, use /feedback.")
		return
	}
	pf := &store.PendingFeedback{
		TaskID:    guard.TaskID,
		Kind:      store.FeedbackReject,
		Requester: cb.From,
		ExpiresAt: time.Now().Add(FeedbackCaptureTTL),
	}
	if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{PendingFeedback: pf}); err != nil {
		g.logger.Error("feedback marker failed", "session", sess.ID, "error", err)
		g.answerCallback(ctx, cb, "Couldn't open the feedback flow, use /feedback.")
		return
	}
	g.answerCallback(ctx, cb, "")
	g.reply(ctx, cb.Channel, cb.ChatID, "", "What should be different? Your next message is taken as feedback.")
}

func (g *Gateway) selectionPress(ctx context.Context, cb *channels.CallbackQuery, action *CallbackAction, key string) {
	guard, ok := g.guards.Peek(key)
	if !ok {
		g.answerCallback(ctx, cb, "These controls expired — run the command again.")
		g.dropKeyboard(ctx, cb)
		return
	}
	if guard.Requester != "" && cb.From != guard.Requester {
		g.answerCallback(ctx, cb, "Only the requester can pick here.")
		return
	}
	g.guards.Consume(key)
	g.dropKeyboard(ctx, cb)

	sess, err := g.store.FindSessionByChat(cb.Channel, cb.ChatID)
	if err != nil {
		g.answerCallback(ctx, cb, "Couldn't apply that, run the command again.")
		return
	}
	g.clearSelection(sess)

	var kind store.SelectionKind
	switch action.Kind {
	case CallbackWorkspace:
		kind = store.SelectWorkspace
	case CallbackProvider:
		kind = store.SelectProvider
	case CallbackModel:
		kind = store.SelectModel
	}
	reply, err := g.applySelection(ctx, sess, kind, action.Param)
	if err != nil {
		g.logger.Error("selection apply failed", "session", sess.ID, "kind", kind, "error", err)
		g.answerCallback(ctx, cb, "Couldn't apply that selection.")
		return
	}
	g.answerCallback(ctx, cb, "")
	g.reply(ctx, cb.Channel, cb.ChatID, "", reply)
}

// applySelection binds a picked workspace/provider/model to the session.
func (g *Gateway) applySelection(ctx context.Context, sess *store.Session, kind store.SelectionKind, id string) (string, error) {
	switch kind {
	case store.SelectWorkspace:
		ws, err := g.store.FindWorkspace(id)
		if err != nil {
			return "", err
		}
		if err := g.store.SetSessionWorkspace(sess.ID, ws.ID); err != nil {
			return "", err
		}
		sess.WorkspaceID = ws.ID
		return fmt.Sprintf("Workspace set to %s.", ws.Name), nil

	case store.SelectProvider:
		p, ok := g.findProvider(id)
		if !ok {
			return "", fmt.Errorf("unknown provider %q", id)
		}
		empty := ""
		if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{Provider: &p.ID, Model: &empty}); err != nil {
			return "", err
		}
		sess.Context.Provider, sess.Context.Model = p.ID, ""
		return fmt.Sprintf("Provider set to %s. Pick a model with /model.", p.Name), nil

	case store.SelectModel:
		if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{Model: &id}); err != nil {
			return "", err
		}
		sess.Context.Model = id
		return fmt.Sprintf("Model set to %s.", id), nil
	}
	return "", fmt.Errorf("unknown selection kind %q", kind)
}

func (g *Gateway) findProvider(id string) (*ProviderInfo, bool) {
	for i := range g.cfg.Providers {
		if g.cfg.Providers[i].ID == id {
			return &g.cfg.Providers[i], true
		}
	}
	return nil, false
}

func (g *Gateway) clearSelection(sess *store.Session) {
	if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{ClearSelection: true}); err != nil {
		g.logger.Debug("selection clear failed", "session", sess.ID, "error", err)
	}
	sess.Context.PendingSelection = nil
}

func (g *Gateway) clearFeedback(sess *store.Session) {
	if err := g.store.UpdateSessionContext(sess.ID, store.ContextPatch{ClearFeedback: true}); err != nil {
		g.logger.Debug("feedback clear failed", "session", sess.ID, "error", err)
	}
	sess.Context.PendingFeedback = nil
}

// reply sends text to a chat, split to the platform limit. Returns the last
// platform message ID, or "" when nothing was sent.
func (g *Gateway) reply(ctx context.Context, channel, chatID, replyTo, text string) string {
	limit := channels.MaxMessageLength(channel)
	var lastID string
	for i, chunk := range SplitMessage(text, limit) {
		out := &channels.OutgoingMessage{Content: chunk}
		if i == 0 {
			out.ReplyTo = replyTo
		}
		id, err := g.channels.SendText(ctx, channel, chatID, out)
		if err != nil {
			g.logger.Warn("reply send failed", "channel", channel, "chat", chatID, "error", err)
			return lastID
		}
		lastID = id
	}
	return lastID
}

// replyLocal sends a router-generated reply and logs it to the audit trail.
func (g *Gateway) replyLocal(ctx context.Context, sess *store.Session, channel, chatID, replyTo, text string) string {
	id := g.reply(ctx, channel, chatID, replyTo, text)
	if sess != nil {
		g.auditOutgoing(sess.ID, text, true)
	}
	return id
}

func (g *Gateway) answerCallback(ctx context.Context, cb *channels.CallbackQuery, text string) {
	if err := g.channels.AnswerCallback(ctx, cb.Channel, cb.ID, text); err != nil {
		g.logger.Debug("callback answer failed", "channel", cb.Channel, "error", err)
	}
}

func (g *Gateway) dropKeyboard(ctx context.Context, cb *channels.CallbackQuery) {
	err := g.channels.EditMessageKeyboard(ctx, cb.Channel, cb.ChatID, cb.MessageID, nil)
	if err != nil && !errors.Is(err, channels.ErrEditNotSupported) {
		g.logger.Debug("keyboard removal failed", "channel", cb.Channel, "error", err)
	}
}

// auditIncoming logs one inbound message. Best-effort: an audit miss never
// blocks the reply.
func (g *Gateway) auditIncoming(sess *store.Session, msg *channels.IncomingMessage, content string, attachments []string) {
	err := g.store.AppendMessage(&store.Message{
		SessionID:   sess.ID,
		Direction:   store.DirIncoming,
		Sender:      msg.From,
		SenderName:  msg.FromName,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		g.logger.Warn("incoming audit failed", "session", sess.ID, "error", err)
	}
}

// auditOutgoing logs one outbound message. local marks router-generated
// replies (command output, errors) as opposed to task output.
func (g *Gateway) auditOutgoing(sessionID, content string, local bool) {
	dir := store.DirOutgoing
	if local {
		dir = store.DirOutgoingLocal
	}
	err := g.store.AppendMessage(&store.Message{
		SessionID: sessionID,
		Direction: dir,
		Content:   content,
	})
	if err != nil {
		g.logger.Warn("outgoing audit failed", "session", sessionID, "error", err)
	}
}

// taskTitle derives a short task title from the first line of the prompt.
func taskTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if len(line) > 60 {
		line = strings.TrimSpace(line[:60]) + "…"
	}
	if line == "" {
		line = "Chat task"
	}
	return line
}
