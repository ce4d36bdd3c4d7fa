package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/clawgate/pkg/clawgate/access"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/console"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/discord"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/telegram"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels/whatsapp"
	"github.com/jholhewres/clawgate/pkg/clawgate/config"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/gateway"
	"github.com/jholhewres/clawgate/pkg/clawgate/scheduler"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// newServeCmd creates the `clawgate serve` command that starts the gateway.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway with the enabled chat channels",
		Long: `Start ClawGate as a daemon: connect the enabled channels (Telegram,
Discord, WhatsApp, console), route messages to the agent engine and stream
results back.

Examples:
  clawgate serve
  clawgate serve --channel telegram --channel console
  clawgate serve --config ./clawgate.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (telegram, discord, whatsapp, console)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = "clawgate.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Open store ──
	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	dataDir := filepath.Dir(cfg.Database.Path)
	mediaDir := filepath.Join(dataDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return fmt.Errorf("creating media directory: %w", err)
	}

	// ── Engine connection ──
	var (
		eng         engine.Engine
		transcriber engine.Transcriber
	)
	if cfg.Engine.BaseURL != "" {
		client := engine.NewClient(ctx, cfg.Engine.BaseURL, logger)
		defer client.Close()
		eng = client
		transcriber = client
	} else {
		logger.Warn("no engine endpoint configured, task execution is disabled")
		eng = engine.Unavailable{}
	}

	// ── Register channels ──
	mgr := channels.NewManager(logger)
	channelFilter, _ := cmd.Flags().GetStringSlice("channel")

	if shouldEnable("telegram", channelFilter, cfg.Channels.Telegram.Enabled) {
		tg := telegram.New(telegram.Config{
			Token:       cfg.Channels.Telegram.Token,
			DownloadDir: mediaDir,
		}, logger)
		tg.SetReconnectNotify(func() { mgr.NotifyReconnected("telegram") })
		registerChannel(mgr, tg, logger)
	}

	if shouldEnable("discord", channelFilter, cfg.Channels.Discord.Enabled) {
		dc := discord.New(discord.Config{
			Token:       cfg.Channels.Discord.Token,
			DownloadDir: mediaDir,
		}, logger)
		registerChannel(mgr, dc, logger)
	}

	if shouldEnable("whatsapp", channelFilter, cfg.Channels.WhatsApp.Enabled) {
		wa := whatsapp.New(whatsapp.Config{
			DatabasePath: cfg.Channels.WhatsApp.SessionPath,
			MediaDir:     mediaDir,
		}, logger)
		wa.SetReconnectNotify(func() { mgr.NotifyReconnected("whatsapp") })
		registerChannel(mgr, wa, logger)
	}

	if shouldEnable("console", channelFilter, cfg.Channels.Console.Enabled) {
		co := console.New(console.Config{
			HistoryFile: filepath.Join(dataDir, "console_history"),
		}, logger)
		registerChannel(mgr, co, logger)
	}

	// ── Access policy and default workspace ──
	policy := access.NewPolicy(st, logger)

	ws, err := ensureDefaultWorkspace(st, cfg.Gateway.DefaultWorkspace)
	if err != nil {
		return fmt.Errorf("ensuring default workspace: %w", err)
	}

	// ── Scheduler ──
	// The runner closure resolves the gateway lazily: jobs only fire after
	// Start, by which point gw is set.
	var (
		gw    *gateway.Gateway
		sched *scheduler.Scheduler
	)
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.NewStorage(st.DB()),
			func(ctx context.Context, channel, chatID, name, prompt string) error {
				return gw.RunScheduledPrompt(ctx, channel, chatID, name, prompt)
			}, logger)
	}

	// ── Gateway ──
	providers := make([]gateway.ProviderInfo, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, gateway.ProviderInfo{ID: p.ID, Name: p.Name, Models: p.Models})
	}
	skills := make([]gateway.SkillInfo, 0, len(cfg.Skills))
	for _, s := range cfg.Skills {
		skills = append(skills, gateway.SkillInfo{ID: s.ID, Name: s.Name, Description: s.Description})
	}

	deps := gateway.Deps{
		Store:       st,
		Policy:      policy,
		Engine:      eng,
		Channels:    mgr,
		Transcriber: transcriber,
		Logger:      logger,
		Config: gateway.Config{
			DefaultWorkspaceID: ws.ID,
			Version:            cmd.Root().Version,
			BotName:            cfg.BotName,
			DebounceWindow:     cfg.Gateway.DebounceWindow(),
			Providers:          providers,
			Skills:             skills,
		},
	}
	if sched != nil {
		deps.Scheduler = sched
	}
	gw = gateway.New(deps)

	// ── Start ──
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	if err := gw.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler failed to start, /schedule disabled", "error", err)
		}
	}

	logger.Info("ClawGate running. Press Ctrl+C to stop.",
		"bot", cfg.BotName,
		"workspace", ws.Path,
		"engine", cfg.Engine.BaseURL != "",
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout. Channels stop first so their streams
	// close and drain the gateway loops.
	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		mgr.Stop()
		gw.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// registerChannel registers an adapter, logging instead of failing so one
// misconfigured channel does not take the others down.
func registerChannel(mgr *channels.Manager, a channels.Adapter, logger *slog.Logger) {
	if err := mgr.Register(a); err != nil {
		logger.Error("failed to register channel", "channel", a.Name(), "error", err)
		return
	}
	logger.Info("channel registered", "channel", a.Name())
}

// ensureDefaultWorkspace finds or creates the workspace bound to new
// sessions, creating its directory on disk as needed.
func ensureDefaultWorkspace(st *store.Store, path string) (*store.Workspace, error) {
	ws, err := st.FindWorkspaceByName("default")
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, store.ErrWorkspaceNotFound) {
		return nil, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace directory %q: %w", path, err)
	}
	ws = &store.Workspace{Name: "default", Path: path}
	if err := st.CreateWorkspace(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// shouldEnable checks whether a channel should be enabled given the
// --channel filter.
func shouldEnable(name string, filter []string, configEnabled bool) bool {
	if len(filter) == 0 {
		return configEnabled
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}
