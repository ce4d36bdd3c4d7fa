package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?error}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?(:\?([^}]*))?\}`)

// Load reads the configuration file, overlays it on DefaultConfig and
// resolves secrets. A missing file is not an error: defaults apply, which is
// enough for a console-only setup.
func Load(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		resolveSecrets(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	checkFilePermissions(path)

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand config %q: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	resolveRelativePaths(cfg, filepath.Dir(path))
	resolveSecrets(cfg)
	return cfg, nil
}

// loadEnvFiles loads .env then .env.local from the config directory and the
// working directory. Later files do not override already-set variables, so
// real environment always wins.
func loadEnvFiles(dirs ...string) {
	seen := map[string]bool{}
	for _, dir := range append(dirs, ".") {
		for _, name := range []string{".env", ".env.local"} {
			p := filepath.Join(dir, name)
			if seen[p] {
				continue
			}
			seen[p] = true
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := godotenv.Load(p); err != nil {
				slog.Warn("env file load failed", "path", p, "error", err)
			}
		}
	}
}

// expandEnvVars substitutes ${VAR} references. ${VAR:-default} falls back,
// ${VAR:?message} fails loudly on an unset variable.
func expandEnvVars(in string) (string, error) {
	var expandErr error
	out := envVarPattern.ReplaceAllStringFunc(in, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if groups[2] != "" { // :- default
			return groups[3]
		}
		if groups[4] != "" { // :? required
			msg := groups[5]
			if msg == "" {
				msg = "required"
			}
			expandErr = fmt.Errorf("environment variable %s is not set: %s", name, msg)
		}
		return ""
	})
	return out, expandErr
}

// resolveRelativePaths makes file paths absolute relative to the config
// directory, expanding a leading ~.
func resolveRelativePaths(cfg *Config, baseDir string) {
	cfg.Database.Path = resolvePath(cfg.Database.Path, baseDir)
	cfg.Gateway.DefaultWorkspace = resolvePath(cfg.Gateway.DefaultWorkspace, baseDir)
	cfg.Channels.WhatsApp.SessionPath = resolvePath(cfg.Channels.WhatsApp.SessionPath, baseDir)
}

func resolvePath(p, baseDir string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// checkFilePermissions warns when the config file is readable by others.
// Tokens may be inlined even though the keyring is preferred.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		slog.Warn("config file is readable by other users, consider chmod 600", "path", path)
	}
}

// resolveSecrets fills empty tokens from the keyring, then the environment.
func resolveSecrets(cfg *Config) {
	if cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = resolveToken("telegram-token", "CLAWGATE_TELEGRAM_TOKEN")
	}
	if cfg.Channels.Discord.Token == "" {
		cfg.Channels.Discord.Token = resolveToken("discord-token", "CLAWGATE_DISCORD_TOKEN")
	}
}

func resolveToken(keyringKey, envVar string) string {
	if tok, err := GetKeyring(keyringKey); err == nil && tok != "" {
		return tok
	}
	return os.Getenv(envVar)
}

// Save writes the configuration back to disk with tokens replaced by
// environment references, keeping secrets out of the file. An existing file
// is kept as a .bak backup first.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	if sanitized.Channels.Telegram.Token != "" {
		sanitized.Channels.Telegram.Token = "${CLAWGATE_TELEGRAM_TOKEN}"
	}
	if sanitized.Channels.Discord.Token != "" {
		sanitized.Channels.Discord.Token = "${CLAWGATE_DISCORD_TOKEN}"
	}

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			slog.Warn("config backup failed", "path", path, "error", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %q: %w", path, err)
	}
	return nil
}
