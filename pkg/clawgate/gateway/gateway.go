// Package gateway is the ClawGate router: it sits between the chat adapters
// and the agent engine, authorizing senders, resolving sessions, dispatching
// slash commands, routing plain messages into tasks and delivering engine
// events back to the originating chat.
//
// All durable state (sessions, tasks, policies, the message log) lives in the
// store. Routes, approvals, inline guards and stream buffers are memory-only
// and rebuilt or expired after a restart; only task routes are reconstructed,
// from the persisted session/task link.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/access"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// ProviderInfo is one configured model provider, as shown by /providers.
type ProviderInfo struct {
	ID     string
	Name   string
	Models []string
}

// JobInfo is one scheduled job, as shown by /schedule.
type JobInfo struct {
	ID       string
	Name     string
	Spec     string
	NextRun  time.Time
	LastRun  time.Time
	Disabled bool
}

// JobScheduler is the optional cron-job surface behind /schedule. The
// scheduler delivers due jobs back through Gateway.RunScheduledPrompt.
type JobScheduler interface {
	Schedule(spec, name, prompt, channel, chatID string) (string, error)
	Jobs() ([]JobInfo, error)
	Enable(id string, on bool) error
	Remove(id string) error
}

// SkillInfo is one agent skill, as shown by /skills.
type SkillInfo struct {
	ID          string
	Name        string
	Description string
}

// Config carries the static gateway settings.
type Config struct {
	// DefaultWorkspaceID is bound to sessions created without an explicit
	// workspace choice.
	DefaultWorkspaceID string

	// Version is the build version shown by /version.
	Version string

	// BotName is used in greetings and the /start reply.
	BotName string

	// DebounceWindow overrides the streaming debounce window. Zero keeps
	// the default.
	DebounceWindow time.Duration

	// Providers is the configured provider/model catalog.
	Providers []ProviderInfo

	// Skills lists the agent skills shown by /skills.
	Skills []SkillInfo
}

// Deps bundles the gateway's collaborators.
type Deps struct {
	Store    *store.Store
	Policy   *access.Policy
	Engine   engine.Engine
	Channels *channels.Manager

	// Transcriber is optional; voice messages degrade to a placeholder
	// without it.
	Transcriber engine.Transcriber

	// Scheduler is optional; /schedule reports unavailable without it.
	Scheduler JobScheduler

	Logger *slog.Logger
	Config Config
}

// Gateway is the message router.
type Gateway struct {
	store       *store.Store
	policy      *access.Policy
	engine      engine.Engine
	channels    *channels.Manager
	transcriber engine.Transcriber
	scheduler   JobScheduler
	cfg         Config
	logger      *slog.Logger

	routes    *RouteTable
	approvals *ApprovalStore
	guards    *GuardStore
	stream    *StreamCoordinator
	commands  *CommandSet

	// events decouples the engine's handler callback from event processing.
	events chan engine.Event

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a Gateway from its dependencies. Start must be called before any
// message flows.
func New(d Deps) *Gateway {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	g := &Gateway{
		store:       d.Store,
		policy:      d.Policy,
		engine:      d.Engine,
		channels:    d.Channels,
		transcriber: d.Transcriber,
		scheduler:   d.Scheduler,
		cfg:         d.Config,
		logger:      logger,
		routes:      NewRouteTable(),
		approvals:   NewApprovalStore(logger),
		guards:      NewGuardStore(logger),
		stream:      NewStreamCoordinator(d.Channels, d.Config.DebounceWindow, logger),
		events:      make(chan engine.Event, 256),
	}
	g.commands = newCommandSet(g)
	return g
}

// Start registers the engine handler and launches the event loops. It does
// not start the channel manager; the caller owns adapter lifecycle.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.startedAt = time.Now()

	if g.engine != nil {
		g.engine.SetHandler(g.enqueueEvent)
	}

	g.wg.Add(3)
	go g.messageLoop()
	go g.callbackLoop()
	go g.statusLoop()

	g.wg.Add(1)
	go g.eventLoop()

	g.logger.Info("gateway started", "version", g.cfg.Version)
	return nil
}

// Stop shuts down the event loops. The channel manager must be stopped first
// so its streams close.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
	g.logger.Info("gateway stopped")
}

// enqueueEvent is the engine handler: it never blocks the engine. A full
// queue drops partials first; terminal events wait briefly.
func (g *Gateway) enqueueEvent(ev engine.Event) {
	select {
	case g.events <- ev:
		return
	default:
	}
	if ev.Type == engine.EventPartial {
		g.logger.Debug("event queue full, dropping partial", "task", ev.TaskID)
		return
	}
	select {
	case g.events <- ev:
	case <-time.After(5 * time.Second):
		g.logger.Error("event queue wedged, dropping event", "task", ev.TaskID, "type", ev.Type)
	}
}

func (g *Gateway) messageLoop() {
	defer g.wg.Done()
	for {
		select {
		case msg, ok := <-g.channels.Messages():
			if !ok {
				return
			}
			g.handleMessage(g.ctx, msg)
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gateway) callbackLoop() {
	defer g.wg.Done()
	for {
		select {
		case cb, ok := <-g.channels.Callbacks():
			if !ok {
				return
			}
			g.handleCallback(g.ctx, cb)
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gateway) statusLoop() {
	defer g.wg.Done()
	for {
		select {
		case ev, ok := <-g.channels.Status():
			if !ok {
				return
			}
			if ev.Connected {
				g.replayRoutes(ev.Channel)
			}
			status := store.ChannelDisconnected
			if ev.Connected {
				status = store.ChannelConnected
			}
			if err := g.store.SetChannelStatus(ev.Channel, status); err != nil {
				g.logger.Debug("channel status update failed", "channel", ev.Channel, "error", err)
			}
		case <-g.ctx.Done():
			return
		}
	}
}

func (g *Gateway) eventLoop() {
	defer g.wg.Done()
	for {
		select {
		case ev := <-g.events:
			g.handleEngineEvent(g.ctx, ev)
		case <-g.ctx.Done():
			return
		}
	}
}

// RunScheduledPrompt starts a task on behalf of the scheduler. The due job
// runs under the channel's group-context restrictions: with no live sender
// to attribute it to, the more restrictive policy applies.
func (g *Gateway) RunScheduledPrompt(ctx context.Context, channel, chatID, name, prompt string) error {
	sess, err := g.store.GetOrCreateSession(channel, chatID, g.cfg.DefaultWorkspaceID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	restrictions, err := g.policy.Restrictions(channel, store.ContextGroup)
	if err != nil {
		return fmt.Errorf("resolve policy: %w", err)
	}

	task := &store.Task{
		WorkspaceID: sess.WorkspaceID,
		Title:       "Scheduled: " + name,
		Prompt:      prompt,
		AgentConfig: engine.AgentConfig{
			GatewayContext:   engine.ContextGroup,
			ToolRestrictions: restrictions,
		},
	}
	if err := g.store.CreateTask(task); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	err = g.engine.StartTask(ctx, engine.StartRequest{
		TaskID:      task.ID,
		WorkspaceID: task.WorkspaceID,
		Title:       task.Title,
		Prompt:      task.Prompt,
		Provider:    sess.Context.Provider,
		Model:       sess.Context.Model,
		Config:      task.AgentConfig,
	})
	if err != nil {
		if derr := g.store.DeleteTask(task.ID); derr != nil {
			g.logger.Error("task rollback failed", "task", task.ID, "error", derr)
		}
		return fmt.Errorf("start scheduled task: %w", err)
	}

	g.routes.Put(&Route{
		TaskID: task.ID, Channel: channel, ChatID: chatID, SessionID: sess.ID,
	})
	g.logger.Info("scheduled task started", "task", task.ID, "job", name, "chat", chatID)
	return nil
}

// replayRoutes reconstructs delivery routes for every non-terminal task
// linked to a session on the (re)connected channel. Existing routes win:
// they may carry a fresher requester and reply target.
func (g *Gateway) replayRoutes(channel string) {
	sessions, err := g.store.ActiveTaskSessions(channel)
	if err != nil {
		g.logger.Error("route replay query failed", "channel", channel, "error", err)
		return
	}
	replayed := 0
	for _, sess := range sessions {
		if _, exists := g.routes.Get(sess.TaskID); exists {
			continue
		}
		requester := ""
		if sess.Context.LastSender != nil {
			requester = sess.Context.LastSender.UserID
		}
		g.routes.Put(&Route{
			TaskID:    sess.TaskID,
			Channel:   sess.ChannelID,
			ChatID:    sess.ChatID,
			SessionID: sess.ID,
			Requester: requester,
		})
		replayed++
	}
	if replayed > 0 {
		g.logger.Info("routes replayed", "channel", channel, "count", replayed)
	}
}
