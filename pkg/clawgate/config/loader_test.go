package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CLAWGATE_TEST_SET", "value")
	os.Unsetenv("CLAWGATE_TEST_UNSET")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain substitution", in: "token: ${CLAWGATE_TEST_SET}", want: "token: value"},
		{name: "unset becomes empty", in: "token: ${CLAWGATE_TEST_UNSET}", want: "token: "},
		{name: "default fallback", in: "x: ${CLAWGATE_TEST_UNSET:-fallback}", want: "x: fallback"},
		{name: "set wins over default", in: "x: ${CLAWGATE_TEST_SET:-fallback}", want: "x: value"},
		{name: "required unset fails", in: "x: ${CLAWGATE_TEST_UNSET:?token required}", wantErr: true},
		{name: "required set passes", in: "x: ${CLAWGATE_TEST_SET:?token required}", want: "x: value"},
		{name: "no references untouched", in: "plain: text", want: "plain: text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotName != "ClawGate" {
		t.Errorf("expected default bot name, got %q", cfg.BotName)
	}
	if !cfg.Channels.Console.Enabled {
		t.Error("expected console enabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected default logging %+v", cfg.Logging)
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clawgate.yaml")
	t.Setenv("CLAWGATE_TEST_TG", "123:abc")

	content := `
bot_name: Helper
gateway:
  debounce_ms: 800
channels:
  telegram:
    enabled: true
    token: ${CLAWGATE_TEST_TG}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BotName != "Helper" {
		t.Errorf("expected overridden bot name, got %q", cfg.BotName)
	}
	if cfg.Gateway.DebounceWindow().Milliseconds() != 800 {
		t.Errorf("expected 800ms debounce, got %v", cfg.Gateway.DebounceWindow())
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("expected env-expanded token, got %q", cfg.Channels.Telegram.Token)
	}
	// Untouched sections keep defaults.
	if cfg.Database.Path == "" {
		t.Error("expected default database path preserved")
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "clawgate.yaml")

	content := "database:\n  path: ./data/app.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.Database.Path) {
		t.Errorf("expected absolute path, got %q", cfg.Database.Path)
	}
	if !strings.HasPrefix(cfg.Database.Path, dir) {
		t.Errorf("expected path under config dir, got %q", cfg.Database.Path)
	}
}

func TestSave_SanitizesTokens(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "clawgate.yaml")

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Token = "123:supersecret"
	cfg.Channels.Discord.Token = "discord-secret"

	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "supersecret") || strings.Contains(out, "discord-secret") {
		t.Error("expected tokens sanitized out of the config file")
	}
	if !strings.Contains(out, "${CLAWGATE_TELEGRAM_TOKEN}") {
		t.Error("expected env reference in place of the token")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %o", info.Mode().Perm())
	}
}

func TestSave_BacksUpExisting(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "clawgate.yaml")

	if err := os.WriteFile(path, []byte("bot_name: Old\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(backup), "Old") {
		t.Error("expected previous config preserved in .bak")
	}
}
