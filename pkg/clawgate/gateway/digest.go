// digest.go implements the read-only summarization commands (/digest,
// /followups, /brief). These run as isolated one-shot tasks: never linked to
// the session, and always carrying the deny-all tool sentinel, because the
// prompt is untrusted chat history and must not be able to invoke tools even
// through injected instructions.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/access"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
	"github.com/jholhewres/clawgate/pkg/clawgate/transcript"
)

type summaryKind string

const (
	summaryDigest    summaryKind = "digest"
	summaryFollowups summaryKind = "followups"
	summaryBrief     summaryKind = "brief"
)

const defaultLookback = 24 * time.Hour

func (g *Gateway) runIsolatedSummary(ctx context.Context, cc *CommandContext, kind summaryKind, since time.Time, count int) error {
	if since.IsZero() && count == 0 {
		since = time.Now().Add(-defaultLookback)
	}
	fetch := 200
	if count > fetch {
		fetch = count
	}
	messages, err := g.store.RecentMessages(cc.Session.ID, since, fetch)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	opts := transcript.DefaultOptions()
	if count > 0 {
		opts.MaxMessages = count
	}
	res := transcript.Format(messages, opts)
	if res.Text == "" {
		g.say(ctx, cc, "No messages found for that timeframe.")
		return nil
	}

	var title, instruction string
	switch kind {
	case summaryFollowups:
		title = "Follow-ups"
		instruction = "List the open follow-ups and unanswered questions from this conversation, most important first. Be brief."
	default:
		title = "Digest"
		instruction = "Summarize this conversation in a few short bullet points. Be brief."
	}
	prompt := fmt.Sprintf("%s\n\nConversation transcript (%d messages):\n%s", instruction, res.UsedCount, res.Text)

	return g.startIsolatedTask(ctx, cc, title, prompt)
}

// runBrief composes a briefing over recent conversation plus the scheduled
// jobs in the requested window.
func (g *Gateway) runBrief(ctx context.Context, cc *CommandContext, window string) error {
	var since time.Time
	now := time.Now()
	switch window {
	case "week":
		since = now.Add(-7 * 24 * time.Hour)
	case "tomorrow":
		since = now // jobs only
	default: // today
		since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}

	messages, err := g.store.RecentMessages(cc.Session.ID, since, 200)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	res := transcript.Format(messages, transcript.DefaultOptions())

	var jobLines []string
	if g.scheduler != nil {
		if jobs, jerr := g.scheduler.Jobs(); jerr == nil {
			horizon := briefHorizon(window, now)
			for _, j := range jobs {
				if j.Disabled || j.NextRun.After(horizon) {
					continue
				}
				jobLines = append(jobLines, fmt.Sprintf("- %s at %s (%s)",
					j.Name, j.NextRun.Local().Format("Mon 15:04"), j.Spec))
			}
		}
	}

	if res.Text == "" && len(jobLines) == 0 {
		g.say(ctx, cc, "Nothing to brief for that window.")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Produce a short briefing for %s: what happened, what's scheduled, what needs attention. Be brief.\n", window)
	if len(jobLines) > 0 {
		b.WriteString("\nScheduled:\n" + strings.Join(jobLines, "\n") + "\n")
	}
	if res.Text != "" {
		fmt.Fprintf(&b, "\nConversation transcript (%d messages):\n%s", res.UsedCount, res.Text)
	}
	return g.startIsolatedTask(ctx, cc, "Brief: "+window, b.String())
}

func briefHorizon(window string, now time.Time) time.Time {
	switch window {
	case "week":
		return now.Add(7 * 24 * time.Hour)
	case "tomorrow":
		return now.Add(48 * time.Hour)
	}
	return now.Add(24 * time.Hour)
}

// startIsolatedTask runs a one-shot task that is routed to the chat but
// never linked to the session, with every tool denied.
func (g *Gateway) startIsolatedTask(ctx context.Context, cc *CommandContext, title, prompt string) error {
	ctxKind := engine.ContextPrivate
	if cc.Msg.IsGroup {
		ctxKind = engine.ContextGroup
	}
	restrictions := append([]string{access.DenyAll}, cc.Decision.DeniedTools...)

	task := &store.Task{
		WorkspaceID: cc.Session.WorkspaceID,
		Title:       title,
		Prompt:      prompt,
		AgentConfig: engine.AgentConfig{
			GatewayContext:   ctxKind,
			ToolRestrictions: restrictions,
		},
	}
	if err := g.store.CreateTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	err := g.engine.StartTask(ctx, engine.StartRequest{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		Title:       task.Title,
		Prompt:      task.Prompt,
		Provider:    cc.Session.Context.Provider,
		Model:       cc.Session.Context.Model,
		Config:      task.AgentConfig,
	})
	if err != nil {
		if derr := g.store.DeleteTask(task.ID); derr != nil {
			g.logger.Error("task rollback failed", "task", task.ID, "error", derr)
		}
		return fmt.Errorf("start summary task: %w", err)
	}

	g.routes.Put(&Route{
		TaskID: task.ID, Channel: cc.Msg.Channel, ChatID: cc.Msg.ChatID,
		SessionID: cc.Session.ID, Requester: cc.Msg.From, LastMessageID: cc.Msg.ID,
	})
	g.channels.SendTyping(ctx, cc.Msg.Channel, cc.Msg.ChatID)
	return nil
}
