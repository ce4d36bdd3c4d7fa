// Package config holds the ClawGate configuration: YAML file, .env overlay,
// environment-variable expansion, and OS-keyring token resolution.
package config

import "time"

// Config is the full clawgate.yaml structure.
type Config struct {
	// BotName is the assistant's display name.
	BotName string `yaml:"bot_name"`

	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Providers []ProviderEntry `yaml:"providers"`
	Skills    []SkillEntry    `yaml:"skills"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig locates the external agent-engine daemon.
type EngineConfig struct {
	// BaseURL is the engine daemon's HTTP endpoint. Empty disables task
	// execution; chat and commands still work.
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// GatewayConfig holds router settings.
type GatewayConfig struct {
	// DefaultWorkspace is the path of the workspace bound to new sessions.
	DefaultWorkspace string `yaml:"default_workspace"`

	// DebounceMs overrides the streaming debounce window in milliseconds.
	DebounceMs int `yaml:"debounce_ms"`
}

// DebounceWindow returns the configured debounce window (zero = default).
func (g GatewayConfig) DebounceWindow() time.Duration {
	return time.Duration(g.DebounceMs) * time.Millisecond
}

// ChannelsConfig enables and configures the chat adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Console  ConsoleConfig  `yaml:"console"`
}

// TelegramConfig configures the Telegram Bot API adapter.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`

	// Token is the bot token. Empty values are resolved from the keyring
	// or CLAWGATE_TELEGRAM_TOKEN.
	Token string `yaml:"token"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled bool `yaml:"enabled"`

	// Token is the bot token. Resolved like the Telegram token.
	Token string `yaml:"token"`
}

// WhatsAppConfig configures the WhatsApp (whatsmeow) adapter.
type WhatsAppConfig struct {
	Enabled bool `yaml:"enabled"`

	// SessionPath is the whatsmeow session database file.
	SessionPath string `yaml:"session_path"`
}

// ConsoleConfig configures the local terminal adapter.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ProviderEntry is one configured model provider.
type ProviderEntry struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Models []string `yaml:"models"`
}

// SkillEntry is one agent skill surfaced by /skills.
type SkillEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SchedulerConfig controls the cron scheduler.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		BotName: "ClawGate",
		Database: DatabaseConfig{
			Path: "./data/clawgate.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Gateway: GatewayConfig{
			DefaultWorkspace: "./workspace",
		},
		Channels: ChannelsConfig{
			Console:  ConsoleConfig{Enabled: true},
			WhatsApp: WhatsAppConfig{SessionPath: "./data/whatsapp.db"},
		},
		Scheduler: SchedulerConfig{Enabled: true},
	}
}
