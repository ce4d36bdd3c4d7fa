// commands.go implements the slash-command surface. Commands are registered
// in a table keyed by name and alias; each entry carries a typed handler.
// Handlers reply themselves for normal outcomes and return an error only
// when the dispatcher should render a user-visible failure.
package gateway

import (
	"context"
	"errors"
	"fmt"
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

// CommandContext is everything a command handler needs about the triggering
// message.
type CommandContext struct {
	Msg      *channels.IncomingMessage
	Session  *store.Session
	Decision access.Decision

	// Line is the full command line ("/digest 6h").
	Line string

	// Args are the tokens after the command name.
	Args []string
}

// ArgLine returns the raw text after the command name.
func (cc *CommandContext) ArgLine() string {
	_, rest, _ := strings.Cut(cc.Line, " ")
	return strings.TrimSpace(rest)
}

// Command is one registered slash command.
type Command struct {
	Name    string
	Aliases []string
	Help    string
	Hidden  bool
	Handler func(ctx context.Context, cc *CommandContext) error
}

// CommandSet is the registered command table.
type CommandSet struct {
	g       *Gateway
	byName  map[string]*Command
	ordered []*Command
}

func newCommandSet(g *Gateway) *CommandSet {
	cs := &CommandSet{g: g, byName: make(map[string]*Command)}
	for _, c := range []*Command{
		{Name: "start", Help: "greeting and quick intro", Handler: g.cmdStart},
		{Name: "help", Help: "list available commands", Handler: g.cmdHelp},
		{Name: "status", Help: "channel, workspace and task status", Handler: g.cmdStatus},
		{Name: "version", Help: "build version and uptime", Handler: g.cmdVersion},
		{Name: "cancel", Help: "cancel the running task", Handler: g.cmdCancel},
		{Name: "newtask", Aliases: []string{"new"}, Help: "detach from the current task", Handler: g.cmdNewTask},
		{Name: "retry", Help: "re-run the last finished task", Handler: g.cmdRetry},
		{Name: "history", Help: "recent tasks in this workspace", Handler: g.cmdHistory},
		{Name: "workspaces", Help: "list workspaces", Handler: g.cmdWorkspaces},
		{Name: "workspace", Aliases: []string{"ws"}, Help: "show or switch the workspace", Handler: g.cmdWorkspace},
		{Name: "addworkspace", Help: "register a workspace: /addworkspace <path> [name]", Handler: g.cmdAddWorkspace},
		{Name: "removeworkspace", Help: "remove a workspace by name", Handler: g.cmdRemoveWorkspace},
		{Name: "providers", Help: "list model providers", Handler: g.cmdProviders},
		{Name: "provider", Help: "show or switch the provider", Handler: g.cmdProvider},
		{Name: "models", Help: "list models for the current provider", Handler: g.cmdModels},
		{Name: "model", Help: "show or switch the model", Handler: g.cmdModel},
		{Name: "approve", Aliases: []string{"yes", "y"}, Help: "approve a pending action", Handler: g.cmdApprove},
		{Name: "deny", Aliases: []string{"no", "n"}, Help: "deny a pending action", Handler: g.cmdDeny},
		{Name: "feedback", Help: "feedback on the last result: /feedback <approve|reject|edit|next> [text]", Handler: g.cmdFeedback},
		{Name: "digest", Help: "summarize recent conversation: /digest [6h|50]", Handler: g.cmdDigest},
		{Name: "followups", Help: "extract open follow-ups: /followups [6h|50]", Handler: g.cmdFollowups},
		{Name: "brief", Help: "daily briefing: /brief [today|tomorrow|week|schedule|list|unschedule]", Handler: g.cmdBrief},
		{Name: "schedule", Help: "scheduled prompts: /schedule <daily|weekdays|weekly|every|at|list|on|off|delete>", Handler: g.cmdSchedule},
		{Name: "queue", Help: "engine queue status: /queue [clear]", Handler: g.cmdQueue},
		{Name: "skills", Help: "list agent skills", Handler: g.cmdSkills},
		{Name: "skill", Help: "show one skill: /skill <id>", Handler: g.cmdSkill},
		{Name: "shell", Help: "allow or deny the shell tool: /shell [on|off]", Handler: g.cmdShell},
		{Name: "pair", Help: "pairing status, or /pair issue on the console", Handler: g.cmdPair},
		{Name: "settings", Help: "show chat settings: /settings [pairing on|off]", Handler: g.cmdSettings},
		{Name: "debug", Hidden: true, Handler: g.cmdDebug},
	} {
		cs.register(c)
	}
	return cs
}

func (cs *CommandSet) register(c *Command) {
	cs.ordered = append(cs.ordered, c)
	cs.byName[c.Name] = c
	for _, a := range c.Aliases {
		cs.byName[a] = c
	}
}

// Dispatch parses and runs one command line.
func (cs *CommandSet) Dispatch(ctx context.Context, cc *CommandContext) {
	fields := strings.Fields(cc.Line)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Telegram appends "@botname" in groups.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	cc.Args = fields[1:]

	cmd, ok := cs.byName[name]
	if !ok {
		cs.g.replyLocal(ctx, cc.Session, cc.Msg.Channel, cc.Msg.ChatID, cc.Msg.ID,
			"Unknown command. Try /help.")
		return
	}
	if err := cmd.Handler(ctx, cc); err != nil {
		cs.g.logger.Warn("command failed", "command", cmd.Name, "chat", cc.Msg.ChatID, "error", err)
		cs.g.replyLocal(ctx, cc.Session, cc.Msg.Channel, cc.Msg.ChatID, cc.Msg.ID,
			"⚠️ "+userError(err))
	}
}

// userError maps internal errors onto user-facing text.
func userError(err error) string {
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		return "No agent engine is configured."
	case errors.Is(err, ErrAmbiguousSelector):
		return err.Error()
	case errors.Is(err, ErrExpiredFlow):
		return "That expired — run the command again."
	case errors.Is(err, ErrAdapterUnavailable):
		return "That channel is not connected."
	}
	return err.Error()
}

func (g *Gateway) say(ctx context.Context, cc *CommandContext, text string) {
	g.replyLocal(ctx, cc.Session, cc.Msg.Channel, cc.Msg.ChatID, cc.Msg.ID, text)
}

func (g *Gateway) cmdStart(ctx context.Context, cc *CommandContext) error {
	name := g.cfg.BotName
	if name == "" {
		name = "ClawGate"
	}
	g.say(ctx, cc, fmt.Sprintf(
		"👋 Hi, I'm %s. Send me a task in plain language and I'll get to work.\n"+
			"Use /help to see everything I can do.", name))
	return nil
}

func (g *Gateway) cmdHelp(ctx context.Context, cc *CommandContext) error {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range g.commands.ordered {
		if c.Hidden {
			continue
		}
		fmt.Fprintf(&b, "/%s — %s\n", c.Name, c.Help)
	}
	b.WriteString("\nAnything else you send becomes a task for the agent.")
	g.say(ctx, cc, b.String())
	return nil
}

func (g *Gateway) cmdVersion(ctx context.Context, cc *CommandContext) error {
	v := g.cfg.Version
	if v == "" {
		v = "dev"
	}
	g.say(ctx, cc, fmt.Sprintf("ClawGate %s, up %s.", v, time.Since(g.startedAt).Round(time.Second)))
	return nil
}

func (g *Gateway) cmdStatus(ctx context.Context, cc *CommandContext) error {
	var b strings.Builder

	b.WriteString("Channels:\n")
	for _, name := range g.channels.Names() {
		a, _ := g.channels.Adapter(name)
		state := "disconnected"
		if a != nil && a.IsConnected() {
			state = "connected"
		}
		fmt.Fprintf(&b, "• %s: %s\n", name, state)
	}

	if ws, err := g.store.FindWorkspace(cc.Session.WorkspaceID); err == nil {
		fmt.Fprintf(&b, "Workspace: %s (%s)\n", ws.Name, ws.Path)
	}

	if cc.Session.TaskID != "" {
		if task, err := g.store.FindTask(cc.Session.TaskID); err == nil && !task.Status.Terminal() {
			fmt.Fprintf(&b, "Active task: %s [%s]\n", task.Title, task.Status)
		}
	} else {
		b.WriteString("No active task.\n")
	}

	if pending := g.approvals.PendingForChat(cc.Msg.Channel, cc.Msg.ChatID); len(pending) > 0 {
		fmt.Fprintf(&b, "Pending approvals: %d (use /approve)\n", len(pending))
	}

	if qs, err := g.engine.QueueStatus(ctx); err == nil {
		fmt.Fprintf(&b, "Engine queue: %d pending, %d executing\n", qs.Pending, qs.Executing)
	}
	g.say(ctx, cc, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (g *Gateway) cmdCancel(ctx context.Context, cc *CommandContext) error {
	if cc.Session.TaskID == "" {
		g.say(ctx, cc, "There's no task running in this chat.")
		return nil
	}
	if err := g.engine.CancelTask(ctx, cc.Session.TaskID); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	g.say(ctx, cc, "🛑 Cancelling…")
	return nil
}

func (g *Gateway) cmdNewTask(ctx context.Context, cc *CommandContext) error {
	if cc.Session.TaskID == "" {
		g.say(ctx, cc, "Already fresh — your next message starts a new task.")
		return nil
	}
	if err := g.store.UnlinkSessionTask(cc.Session.ID, cc.Session.TaskID); err != nil {
		return fmt.Errorf("detach task: %w", err)
	}
	cc.Session.TaskID = ""
	g.say(ctx, cc, "Detached. Your next message starts a new task; the old one keeps running to completion.")
	return nil
}

func (g *Gateway) cmdRetry(ctx context.Context, cc *CommandContext) error {
	tasks, err := g.store.RecentTasks(cc.Session.WorkspaceID, 10)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, t := range tasks {
		if !t.Status.Terminal() || t.Prompt == "" {
			continue
		}
		if _, err := g.startTask(ctx, cc.Session, cc.Msg, cc.Decision, "Retry: "+t.Title, t.Prompt, t.ID); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
		g.say(ctx, cc, "🔁 Retrying: "+t.Title)
		return nil
	}
	g.say(ctx, cc, "Nothing to retry in this workspace.")
	return nil
}

func (g *Gateway) cmdHistory(ctx context.Context, cc *CommandContext) error {
	tasks, err := g.store.RecentTasks(cc.Session.WorkspaceID, 10)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(tasks) == 0 {
		g.say(ctx, cc, "No tasks yet in this workspace.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Recent tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s — %s (%s)\n",
			statusIcon(t.Status), t.Title, t.Status, t.CreatedAt.Local().Format("Jan 2 15:04"))
	}
	g.say(ctx, cc, strings.TrimRight(b.String(), "\n"))
	return nil
}

func statusIcon(s store.TaskStatus) string {
	switch s {
	case store.TaskCompleted:
		return "✅"
	case store.TaskFailed:
		return "❌"
	case store.TaskCancelled:
		return "🛑"
	case store.TaskPaused:
		return "⏸"
	default:
		return "⏳"
	}
}

func (g *Gateway) workspaceItems() ([]SelectItem, error) {
	list, err := g.store.ListWorkspaces()
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	items := make([]SelectItem, 0, len(list))
	for _, w := range list {
		items = append(items, SelectItem{ID: w.ID, Name: w.Name})
	}
	return items, nil
}

func (g *Gateway) cmdWorkspaces(ctx context.Context, cc *CommandContext) error {
	items, err := g.workspaceItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		g.say(ctx, cc, "No workspaces registered. Use /addworkspace <path>.")
		return nil
	}
	return g.offerSelection(ctx, cc, store.SelectWorkspace, items, "Pick a workspace:")
}

func (g *Gateway) cmdWorkspace(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		if ws, err := g.store.FindWorkspace(cc.Session.WorkspaceID); err == nil {
			g.say(ctx, cc, fmt.Sprintf("Current workspace: %s (%s). Use /workspaces to switch.", ws.Name, ws.Path))
			return nil
		}
		return g.cmdWorkspaces(ctx, cc)
	}
	items, err := g.workspaceItems()
	if err != nil {
		return err
	}
	it, err := ResolveSelector(cc.ArgLine(), items)
	if err != nil {
		return err
	}
	reply, err := g.applySelection(ctx, cc.Session, store.SelectWorkspace, it.ID)
	if err != nil {
		return err
	}
	g.say(ctx, cc, reply)
	return nil
}

func (g *Gateway) cmdAddWorkspace(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		g.say(ctx, cc, "Usage: /addworkspace <path> [name]")
		return nil
	}
	path := cc.Args[0]
	name := filepath.Base(path)
	if len(cc.Args) > 1 {
		name = strings.Join(cc.Args[1:], " ")
	}
	if _, err := g.store.FindWorkspaceByName(name); err == nil {
		g.say(ctx, cc, fmt.Sprintf("A workspace named %q already exists.", name))
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	ws := &store.Workspace{Name: name, Path: path}
	if err := g.store.CreateWorkspace(ws); err != nil {
		return fmt.Errorf("register workspace: %w", err)
	}
	g.say(ctx, cc, fmt.Sprintf("Workspace %s registered at %s. Switch with /workspace %s.", name, path, name))
	return nil
}

func (g *Gateway) cmdRemoveWorkspace(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		g.say(ctx, cc, "Usage: /removeworkspace <name>")
		return nil
	}
	items, err := g.workspaceItems()
	if err != nil {
		return err
	}
	it, err := ResolveSelector(cc.ArgLine(), items)
	if err != nil {
		return err
	}
	if it.ID == cc.Session.WorkspaceID {
		g.say(ctx, cc, "That's this chat's active workspace — switch first with /workspace.")
		return nil
	}
	if err := g.store.DeleteWorkspace(it.ID); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	g.say(ctx, cc, fmt.Sprintf("Workspace %s removed. Files on disk are untouched.", it.Label()))
	return nil
}

func (g *Gateway) providerItems() []SelectItem {
	items := make([]SelectItem, 0, len(g.cfg.Providers))
	for _, p := range g.cfg.Providers {
		items = append(items, SelectItem{ID: p.ID, Name: p.Name})
	}
	return items
}

func (g *Gateway) cmdProviders(ctx context.Context, cc *CommandContext) error {
	items := g.providerItems()
	if len(items) == 0 {
		g.say(ctx, cc, "No providers configured.")
		return nil
	}
	return g.offerSelection(ctx, cc, store.SelectProvider, items, "Pick a provider:")
}

func (g *Gateway) cmdProvider(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		cur := cc.Session.Context.Provider
		if cur == "" {
			cur = "engine default"
		}
		g.say(ctx, cc, fmt.Sprintf("Current provider: %s. Use /providers to switch.", cur))
		return nil
	}
	it, err := ResolveSelector(cc.ArgLine(), g.providerItems())
	if err != nil {
		return err
	}
	reply, err := g.applySelection(ctx, cc.Session, store.SelectProvider, it.ID)
	if err != nil {
		return err
	}
	g.say(ctx, cc, reply)
	return nil
}

func (g *Gateway) modelItems(cc *CommandContext) []SelectItem {
	var items []SelectItem
	for _, p := range g.cfg.Providers {
		if cc.Session.Context.Provider != "" && p.ID != cc.Session.Context.Provider {
			continue
		}
		for _, m := range p.Models {
			items = append(items, SelectItem{ID: m})
		}
	}
	return items
}

func (g *Gateway) cmdModels(ctx context.Context, cc *CommandContext) error {
	items := g.modelItems(cc)
	if len(items) == 0 {
		g.say(ctx, cc, "No models configured. Pick a provider first with /providers.")
		return nil
	}
	return g.offerSelection(ctx, cc, store.SelectModel, items, "Pick a model:")
}

func (g *Gateway) cmdModel(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		cur := cc.Session.Context.Model
		if cur == "" {
			cur = "engine default"
		}
		g.say(ctx, cc, fmt.Sprintf("Current model: %s. Use /models to switch.", cur))
		return nil
	}
	it, err := ResolveSelector(cc.ArgLine(), g.modelItems(cc))
	if err != nil {
		return err
	}
	reply, err := g.applySelection(ctx, cc.Session, store.SelectModel, it.ID)
	if err != nil {
		return err
	}
	g.say(ctx, cc, reply)
	return nil
}

// offerSelection shows a numbered list (plus inline buttons where supported)
// and arms the pending-selection sub-flow for the requester.
func (g *Gateway) offerSelection(ctx context.Context, cc *CommandContext, kind store.SelectionKind, items []SelectItem, title string) error {
	var b strings.Builder
	b.WriteString(title + "\n")
	ids := make([]string, 0, len(items))
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it.Label())
		ids = append(ids, it.ID)
	}
	b.WriteString("Reply with a number.")

	out := &channels.OutgoingMessage{Content: b.String(), ReplyTo: cc.Msg.ID}
	if g.supportsCallbacks(cc.Msg.Channel) && len(items) <= 8 {
		var cbKind CallbackKind
		switch kind {
		case store.SelectWorkspace:
			cbKind = CallbackWorkspace
		case store.SelectProvider:
			cbKind = CallbackProvider
		case store.SelectModel:
			cbKind = CallbackModel
		}
		for _, it := range items {
			out.Buttons = append(out.Buttons, channels.InlineButton{
				Text: it.Label(), Data: EncodeCallback(cbKind, it.ID),
			})
		}
	}

	msgID, err := g.channels.SendText(ctx, cc.Msg.Channel, cc.Msg.ChatID, out)
	if err != nil {
		return fmt.Errorf("send selection list: %w", err)
	}
	g.auditOutgoing(cc.Session.ID, out.Content, true)

	ps := &store.PendingSelection{
		Kind:      kind,
		Options:   ids,
		Requester: cc.Msg.From,
		ExpiresAt: time.Now().Add(SelectionTTL),
	}
	if err := g.store.UpdateSessionContext(cc.Session.ID, store.ContextPatch{PendingSelection: ps}); err != nil {
		return fmt.Errorf("arm selection: %w", err)
	}
	cc.Session.Context.PendingSelection = ps

	if len(out.Buttons) > 0 {
		g.guards.Put(&Guard{
			Key:       GuardKey(cc.Msg.Channel, cc.Msg.ChatID, msgID),
			Requester: cc.Msg.From,
		}, GuardTTL)
	}
	return nil
}

func (g *Gateway) cmdApprove(ctx context.Context, cc *CommandContext) error {
	return g.resolveApprovalCommand(ctx, cc, true)
}

func (g *Gateway) cmdDeny(ctx context.Context, cc *CommandContext) error {
	return g.resolveApprovalCommand(ctx, cc, false)
}

func (g *Gateway) resolveApprovalCommand(ctx context.Context, cc *CommandContext, approved bool) error {
	pending := g.approvals.PendingForChat(cc.Msg.Channel, cc.Msg.ChatID)

	var id string
	switch {
	case len(cc.Args) > 0:
		items := make([]SelectItem, 0, len(pending))
		for _, a := range pending {
			items = append(items, SelectItem{ID: a.ID})
		}
		it, err := ResolveSelector(cc.ArgLine(), items)
		if err != nil {
			return err
		}
		id = it.ID
	case len(pending) == 1:
		id = pending[0].ID
	case len(pending) == 0:
		g.say(ctx, cc, "Nothing is waiting for approval here.")
		return nil
	default:
		var b strings.Builder
		b.WriteString("Several approvals are pending:\n")
		for i, a := range pending {
			fmt.Fprintf(&b, "%d. task %s (%s)\n", i+1, a.TaskID, a.ID)
		}
		b.WriteString("Use /approve <number>.")
		g.say(ctx, cc, b.String())
		return nil
	}

	a, state := g.approvals.Resolve(id, cc.Msg.From, cc.Msg.IsGroup)
	switch state {
	case ResolveNotFound:
		g.say(ctx, cc, "That approval is no longer pending.")
		return nil
	case ResolveExpired:
		g.say(ctx, cc, "That approval expired.")
		return nil
	case ResolveForbidden:
		g.say(ctx, cc, "Only the requester can respond to that approval.")
		return nil
	case ResolveDuplicate:
		g.say(ctx, cc, "Already handled.")
		return nil
	}

	outcome, err := g.engine.RespondToApproval(ctx, id, approved)
	if err != nil {
		return fmt.Errorf("deliver decision: %w", err)
	}
	g.approvals.Remove(id)
	if a.MessageID != "" {
		g.guards.Consume(GuardKey(a.Channel, a.ChatID, a.MessageID))
		if err := g.channels.EditMessageKeyboard(ctx, a.Channel, a.ChatID, a.MessageID, nil); err != nil &&
			!errors.Is(err, channels.ErrEditNotSupported) {
			g.logger.Debug("keyboard removal failed", "channel", a.Channel, "error", err)
		}
	}

	switch outcome {
	case engine.ApprovalHandled:
		if approved {
			g.say(ctx, cc, "✅ Approved.")
		} else {
			g.say(ctx, cc, "🚫 Denied.")
		}
	case engine.ApprovalDuplicate:
		g.say(ctx, cc, "Already handled.")
	default:
		g.say(ctx, cc, "The engine no longer knows that approval.")
	}
	return nil
}

func (g *Gateway) cmdFeedback(ctx context.Context, cc *CommandContext) error {
	task, err := g.feedbackTarget(cc)
	if err != nil {
		g.say(ctx, cc, "There's no recent task to give feedback on.")
		return nil
	}

	mode := "reject"
	text := cc.ArgLine()
	if len(cc.Args) > 0 {
		switch strings.ToLower(cc.Args[0]) {
		case "approve", "reject", "edit", "next":
			mode = strings.ToLower(cc.Args[0])
			text = strings.TrimSpace(strings.Join(cc.Args[1:], " "))
		}
	}

	switch mode {
	case "approve":
		fields := map[string]any{"sentiment": "good", "user": cc.Msg.From}
		if text != "" {
			fields["text"] = text
		}
		if err := g.engine.AppendLog(ctx, task.ID, "feedback", fields); err != nil {
			g.logger.Debug("feedback log failed", "task", task.ID, "error", err)
		}
		g.say(ctx, cc, "Thanks, noted!")
		return nil

	case "next":
		if text == "" {
			g.say(ctx, cc, "Usage: /feedback next <what to do next>")
			return nil
		}
		prompt := fmt.Sprintf("Continuing from the task %q, the user wants this next:\n\n%s", task.Title, text)
		if _, err := g.startTask(ctx, cc.Session, cc.Msg, cc.Decision, "Next: "+task.Title, prompt, task.ID); err != nil {
			return fmt.Errorf("start next step: %w", err)
		}
		g.say(ctx, cc, "On it.")
		return nil

	default: // reject / edit
		kind := store.FeedbackReject
		if mode == "edit" {
			kind = store.FeedbackEdit
		}
		if text != "" {
			prompt := fmt.Sprintf("The user reviewed the result of the task %q and asked for changes:\n\n%s", task.Title, text)
			if _, err := g.startTask(ctx, cc.Session, cc.Msg, cc.Decision, "Rework: "+task.Title, prompt, task.ID); err != nil {
				return fmt.Errorf("start rework: %w", err)
			}
			g.say(ctx, cc, "Got it, working on the changes.")
			return nil
		}
		pf := &store.PendingFeedback{
			TaskID:    task.ID,
			Kind:      kind,
			Requester: cc.Msg.From,
			ExpiresAt: time.Now().Add(FeedbackCaptureTTL),
		}
		if err := g.store.UpdateSessionContext(cc.Session.ID, store.ContextPatch{PendingFeedback: pf}); err != nil {
			return fmt.Errorf("arm feedback: %w", err)
		}
		cc.Session.Context.PendingFeedback = pf
		g.say(ctx, cc, "What should be different? Your next message is taken as feedback.")
		return nil
	}
}

// feedbackTarget picks the task feedback applies to: the active task, or the
// most recent one in the workspace.
func (g *Gateway) feedbackTarget(cc *CommandContext) (*store.Task, error) {
	if cc.Session.TaskID != "" {
		if t, err := g.store.FindTask(cc.Session.TaskID); err == nil {
			return t, nil
		}
	}
	tasks, err := g.store.RecentTasks(cc.Session.WorkspaceID, 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrTaskNotFound
	}
	return tasks[0], nil
}

func (g *Gateway) cmdDigest(ctx context.Context, cc *CommandContext) error {
	since, count := parseLookback(cc.ArgLine())
	return g.runIsolatedSummary(ctx, cc, summaryDigest, since, count)
}

func (g *Gateway) cmdFollowups(ctx context.Context, cc *CommandContext) error {
	since, count := parseLookback(cc.ArgLine())
	return g.runIsolatedSummary(ctx, cc, summaryFollowups, since, count)
}

// parseLookback reads "/digest 6h" (duration, d suffix = days) or
// "/digest 50" (message count). Zero values mean defaults.
func parseLookback(arg string) (time.Time, int) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return time.Time{}, 0
	}
	if n, err := strconv.Atoi(arg); err == nil && n > 0 {
		return time.Time{}, n
	}
	if strings.HasSuffix(arg, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(arg, "d")); err == nil && n > 0 {
			return time.Now().Add(-time.Duration(n) * 24 * time.Hour), 0
		}
	}
	if d, err := time.ParseDuration(arg); err == nil && d > 0 {
		return time.Now().Add(-d), 0
	}
	return time.Time{}, 0
}

func (g *Gateway) cmdBrief(ctx context.Context, cc *CommandContext) error {
	sub := "today"
	if len(cc.Args) > 0 {
		sub = strings.ToLower(cc.Args[0])
	}
	switch sub {
	case "today", "tomorrow", "week":
		return g.runBrief(ctx, cc, sub)
	case "schedule":
		if g.scheduler == nil {
			g.say(ctx, cc, "Scheduling is not available.")
			return nil
		}
		at := "08:00"
		if len(cc.Args) > 1 {
			at = cc.Args[1]
		}
		spec, err := dailyCron(at)
		if err != nil {
			return err
		}
		id, err := g.scheduler.Schedule(spec, "brief",
			"Produce a short daily briefing: open tasks, recent activity, anything waiting on the user.",
			cc.Msg.Channel, cc.Msg.ChatID)
		if err != nil {
			return fmt.Errorf("schedule brief: %w", err)
		}
		g.say(ctx, cc, fmt.Sprintf("📅 Daily brief scheduled at %s (job %s).", at, shortID(id)))
		return nil
	case "list":
		return g.listJobs(ctx, cc, "brief")
	case "unschedule":
		if g.scheduler == nil {
			g.say(ctx, cc, "Scheduling is not available.")
			return nil
		}
		jobs, err := g.scheduler.Jobs()
		if err != nil {
			return err
		}
		removed := 0
		for _, j := range jobs {
			if j.Name == "brief" {
				if err := g.scheduler.Remove(j.ID); err == nil {
					removed++
				}
			}
		}
		g.say(ctx, cc, fmt.Sprintf("Removed %d scheduled brief(s).", removed))
		return nil
	}
	g.say(ctx, cc, "Usage: /brief [today|tomorrow|week|schedule <HH:MM>|list|unschedule]")
	return nil
}

func (g *Gateway) cmdSchedule(ctx context.Context, cc *CommandContext) error {
	if g.scheduler == nil {
		g.say(ctx, cc, "Scheduling is not available.")
		return nil
	}
	if len(cc.Args) == 0 {
		return g.listJobs(ctx, cc, "")
	}

	sub := strings.ToLower(cc.Args[0])
	rest := cc.Args[1:]
	switch sub {
	case "list":
		return g.listJobs(ctx, cc, "")

	case "on", "off":
		if len(rest) == 0 {
			g.say(ctx, cc, "Usage: /schedule "+sub+" <job>")
			return nil
		}
		job, err := g.findJob(rest[0])
		if err != nil {
			return err
		}
		if err := g.scheduler.Enable(job.ID, sub == "on"); err != nil {
			return fmt.Errorf("toggle job: %w", err)
		}
		g.say(ctx, cc, fmt.Sprintf("Job %s turned %s.", shortID(job.ID), sub))
		return nil

	case "delete":
		if len(rest) == 0 {
			g.say(ctx, cc, "Usage: /schedule delete <job>")
			return nil
		}
		job, err := g.findJob(rest[0])
		if err != nil {
			return err
		}
		if err := g.scheduler.Remove(job.ID); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		g.say(ctx, cc, fmt.Sprintf("Job %s deleted.", shortID(job.ID)))
		return nil
	}

	spec, prompt, err := parseScheduleSpec(sub, rest)
	if err != nil {
		return err
	}
	id, err := g.scheduler.Schedule(spec, taskTitle(prompt), prompt, cc.Msg.Channel, cc.Msg.ChatID)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	g.say(ctx, cc, fmt.Sprintf("📅 Scheduled (job %s): %s", shortID(id), spec))
	return nil
}

// parseScheduleSpec turns a /schedule sub-command into a cron spec plus the
// prompt to run.
func parseScheduleSpec(sub string, rest []string) (spec, prompt string, err error) {
	switch sub {
	case "daily", "weekdays":
		if len(rest) < 2 {
			return "", "", fmt.Errorf("usage: /schedule %s <HH:MM> <prompt>", sub)
		}
		spec, err = dailyCron(rest[0])
		if err != nil {
			return "", "", err
		}
		if sub == "weekdays" {
			spec = strings.TrimSuffix(spec, "*") + "1-5"
		}
		return spec, strings.Join(rest[1:], " "), nil

	case "weekly":
		if len(rest) < 3 {
			return "", "", fmt.Errorf("usage: /schedule weekly <mon..sun> <HH:MM> <prompt>")
		}
		dow, ok := weekdayNumbers[strings.ToLower(rest[0])]
		if !ok {
			return "", "", fmt.Errorf("unknown weekday %q", rest[0])
		}
		base, err := dailyCron(rest[1])
		if err != nil {
			return "", "", err
		}
		return strings.TrimSuffix(base, "*") + dow, strings.Join(rest[2:], " "), nil

	case "every":
		if len(rest) < 2 {
			return "", "", fmt.Errorf("usage: /schedule every <duration> <prompt>")
		}
		d, derr := time.ParseDuration(rest[0])
		if derr != nil || d < time.Minute {
			return "", "", fmt.Errorf("bad interval %q (minimum 1m)", rest[0])
		}
		return "@every " + d.String(), strings.Join(rest[1:], " "), nil

	case "at":
		if len(rest) < 6 {
			return "", "", fmt.Errorf("usage: /schedule at <m h dom mon dow> <prompt>")
		}
		return strings.Join(rest[:5], " "), strings.Join(rest[5:], " "), nil
	}
	return "", "", fmt.Errorf("unknown schedule form %q", sub)
}

var weekdayNumbers = map[string]string{
	"sun": "0", "mon": "1", "tue": "2", "wed": "3", "thu": "4", "fri": "5", "sat": "6",
}

// dailyCron converts "HH:MM" into a five-field cron spec.
func dailyCron(hhmm string) (string, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return "", fmt.Errorf("bad time %q, expected HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

func (g *Gateway) findJob(selector string) (*JobInfo, error) {
	jobs, err := g.scheduler.Jobs()
	if err != nil {
		return nil, err
	}
	items := make([]SelectItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, SelectItem{ID: j.ID, Name: j.Name})
	}
	it, err := ResolveSelector(selector, items)
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		if jobs[i].ID == it.ID {
			return &jobs[i], nil
		}
	}
	return nil, fmt.Errorf("job %q not found", selector)
}

func (g *Gateway) listJobs(ctx context.Context, cc *CommandContext, nameFilter string) error {
	if g.scheduler == nil {
		g.say(ctx, cc, "Scheduling is not available.")
		return nil
	}
	jobs, err := g.scheduler.Jobs()
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	var b strings.Builder
	n := 0
	for i, j := range jobs {
		if nameFilter != "" && j.Name != nameFilter {
			continue
		}
		state := "on"
		if j.Disabled {
			state = "off"
		}
		fmt.Fprintf(&b, "%d. %s [%s] %s — next %s\n",
			i+1, j.Name, state, j.Spec, j.NextRun.Local().Format("Jan 2 15:04"))
		n++
	}
	if n == 0 {
		g.say(ctx, cc, "No scheduled jobs.")
		return nil
	}
	g.say(ctx, cc, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (g *Gateway) cmdQueue(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) > 0 && strings.EqualFold(cc.Args[0], "clear") {
		n, err := g.engine.ClearStuckTasks(ctx)
		if err != nil {
			return fmt.Errorf("clear stuck tasks: %w", err)
		}
		g.say(ctx, cc, fmt.Sprintf("Cleared %d stuck task(s).", n))
		return nil
	}
	qs, err := g.engine.QueueStatus(ctx)
	if err != nil {
		return fmt.Errorf("queue status: %w", err)
	}
	g.say(ctx, cc, fmt.Sprintf("Engine queue: %d pending, %d executing.", qs.Pending, qs.Executing))
	return nil
}

func (g *Gateway) cmdSkills(ctx context.Context, cc *CommandContext) error {
	if len(g.cfg.Skills) == 0 {
		g.say(ctx, cc, "No skills configured.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Skills:\n")
	for _, s := range g.cfg.Skills {
		fmt.Fprintf(&b, "• %s — %s\n", s.ID, s.Name)
	}
	b.WriteString("Use /skill <id> for details.")
	g.say(ctx, cc, b.String())
	return nil
}

func (g *Gateway) cmdSkill(ctx context.Context, cc *CommandContext) error {
	if len(cc.Args) == 0 {
		return g.cmdSkills(ctx, cc)
	}
	items := make([]SelectItem, 0, len(g.cfg.Skills))
	for _, s := range g.cfg.Skills {
		items = append(items, SelectItem{ID: s.ID, Name: s.Name})
	}
	it, err := ResolveSelector(cc.ArgLine(), items)
	if err != nil {
		return err
	}
	for _, s := range g.cfg.Skills {
		if s.ID == it.ID {
			g.say(ctx, cc, fmt.Sprintf("%s — %s\n%s", s.ID, s.Name, s.Description))
			return nil
		}
	}
	return fmt.Errorf("skill %q not found", cc.ArgLine())
}

func (g *Gateway) cmdShell(ctx context.Context, cc *CommandContext) error {
	ctxType := store.ContextDM
	if cc.Msg.IsGroup {
		ctxType = store.ContextGroup
	}

	if len(cc.Args) == 0 {
		allowed := access.IsToolAllowed("shell", nil, cc.Decision.DeniedTools)
		state := "allowed"
		if !allowed {
			state = "denied"
		}
		g.say(ctx, cc, fmt.Sprintf("Shell tool is currently %s here. Use /shell on|off.", state))
		return nil
	}

	var restrictions []string
	for _, r := range cc.Decision.DeniedTools {
		if r != "shell" {
			restrictions = append(restrictions, r)
		}
	}
	switch strings.ToLower(cc.Args[0]) {
	case "on":
		// restrictions already has "shell" stripped
	case "off":
		restrictions = append(restrictions, "shell")
	default:
		g.say(ctx, cc, "Usage: /shell on|off")
		return nil
	}
	if err := g.policy.SetRestrictions(cc.Msg.Channel, ctxType, restrictions); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	g.say(ctx, cc, fmt.Sprintf("Shell tool turned %s for this chat type. Applies to new tasks.", strings.ToLower(cc.Args[0])))
	return nil
}

func (g *Gateway) cmdPair(ctx context.Context, cc *CommandContext) error {
	// The console adapter is the trusted admin surface: it can mint codes
	// for other channels.
	if len(cc.Args) > 0 && strings.EqualFold(cc.Args[0], "issue") {
		if cc.Msg.Channel != "console" {
			g.say(ctx, cc, "Codes can only be issued from the console.")
			return nil
		}
		target := cc.Msg.Channel
		if len(cc.Args) > 1 {
			target = cc.Args[1]
		}
		code, err := g.policy.IssuePairingCode(target, cc.Decision.User.ID)
		if err != nil {
			return fmt.Errorf("issue code: %w", err)
		}
		g.say(ctx, cc, fmt.Sprintf("Pairing code for %s (valid %s): %s", target, access.PairingTTL, code))
		return nil
	}
	// Paired senders are the only ones who reach the dispatcher.
	g.say(ctx, cc, "This chat is already paired. ✅")
	return nil
}

func (g *Gateway) cmdSettings(ctx context.Context, cc *CommandContext) error {
	ctxType := store.ContextDM
	if cc.Msg.IsGroup {
		ctxType = store.ContextGroup
	}

	if len(cc.Args) >= 2 && strings.EqualFold(cc.Args[0], "pairing") {
		on := strings.EqualFold(cc.Args[1], "on")
		if err := g.policy.SetRequirePairing(cc.Msg.Channel, ctxType, on); err != nil {
			return fmt.Errorf("update policy: %w", err)
		}
		state := "off"
		if on {
			state = "on"
		}
		g.say(ctx, cc, "Pairing requirement turned "+state+".")
		return nil
	}

	var b strings.Builder
	b.WriteString("Settings for this chat:\n")
	fmt.Fprintf(&b, "• Context: %s\n", ctxType)
	if len(cc.Decision.DeniedTools) == 0 {
		b.WriteString("• Tool restrictions: none\n")
	} else {
		fmt.Fprintf(&b, "• Tool restrictions: %s\n", strings.Join(cc.Decision.DeniedTools, ", "))
	}
	provider := cc.Session.Context.Provider
	if provider == "" {
		provider = "engine default"
	}
	model := cc.Session.Context.Model
	if model == "" {
		model = "engine default"
	}
	fmt.Fprintf(&b, "• Provider: %s\n• Model: %s\n", provider, model)
	if ws, err := g.store.FindWorkspace(cc.Session.WorkspaceID); err == nil {
		fmt.Fprintf(&b, "• Workspace: %s\n", ws.Name)
	}
	b.WriteString("Change pairing with /settings pairing on|off.")
	g.say(ctx, cc, b.String())
	return nil
}

func (g *Gateway) cmdDebug(ctx context.Context, cc *CommandContext) error {
	var b strings.Builder
	fmt.Fprintf(&b, "routes: %d\n", g.routes.Len())
	fmt.Fprintf(&b, "event queue: %d/%d\n", len(g.events), cap(g.events))
	fmt.Fprintf(&b, "uptime: %s\n", time.Since(g.startedAt).Round(time.Second))
	for _, name := range g.channels.Names() {
		if a, ok := g.channels.Adapter(name); ok {
			h := a.Health()
			fmt.Fprintf(&b, "%s: connected=%v errors=%d\n", name, h.Connected, h.ErrorCount)
		}
	}
	g.say(ctx, cc, strings.TrimRight(b.String(), "\n"))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
