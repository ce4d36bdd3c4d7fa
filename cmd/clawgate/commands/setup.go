package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawgate/pkg/clawgate/config"
)

// newSetupCmd creates the `clawgate setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial clawgate.yaml.
Asks for the bot name, channels to enable, tokens, engine endpoint and the
default workspace. Tokens go to the OS keyring when one is available; the
config file only ever holds ${VAR} references.

Examples:
  clawgate setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	var (
		enabled   []string
		engineURL string
		confirmed bool
	)
	workspace := cfg.Gateway.DefaultWorkspace
	logFormat := cfg.Logging.Format

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Shown in greetings and /start.").
				Value(&cfg.BotName),
			huh.NewMultiSelect[string]().
				Title("Channels to enable").
				Options(
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("WhatsApp", "whatsapp"),
					huh.NewOption("Console (local terminal)", "console").Selected(true),
				).
				Value(&enabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Engine endpoint").
				Description("HTTP base URL of the agent engine daemon. Leave empty to run chat-only.").
				Placeholder("http://127.0.0.1:8787").
				Value(&engineURL),
			huh.NewInput().
				Title("Default workspace").
				Description("Directory new sessions work in.").
				Value(&workspace),
			huh.NewSelect[string]().
				Title("Log format").
				Options(
					huh.NewOption("Text", "text"),
					huh.NewOption("JSON", "json"),
				).
				Value(&logFormat),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save to clawgate.yaml?").
				Value(&confirmed),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if !confirmed {
		fmt.Println("Setup cancelled.")
		return nil
	}

	cfg.Engine.BaseURL = strings.TrimSpace(engineURL)
	cfg.Gateway.DefaultWorkspace = workspace
	cfg.Logging.Format = logFormat

	cfg.Channels.Telegram.Enabled = contains(enabled, "telegram")
	cfg.Channels.Discord.Enabled = contains(enabled, "discord")
	cfg.Channels.WhatsApp.Enabled = contains(enabled, "whatsapp")
	cfg.Channels.Console.Enabled = contains(enabled, "console")

	// Tokens are read with hidden input and never written to the config
	// file; Save replaces them with ${VAR} references.
	keyringOK := config.KeyringAvailable()
	if cfg.Channels.Telegram.Enabled {
		storeToken("Telegram bot token", "telegram-token", "CLAWGATE_TELEGRAM_TOKEN", keyringOK)
	}
	if cfg.Channels.Discord.Enabled {
		storeToken("Discord bot token", "discord-token", "CLAWGATE_DISCORD_TOKEN", keyringOK)
	}
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println()
		fmt.Println("WhatsApp needs no token: on first `clawgate serve` a QR code is")
		fmt.Println("logged for you to scan with the phone app.")
	}

	target := "clawgate.yaml"
	if _, err := os.Stat(target); err == nil {
		var overwrite bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", target)).
			Value(&overwrite).
			Run()
		if err != nil || !overwrite {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.Save(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("%s created (permissions 600, no secrets inside).\n", target)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Run: clawgate serve")
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("  2. Scan the QR code printed in the log with WhatsApp")
	}
	fmt.Println()

	return nil
}

// storeToken prompts for a token with hidden input and stores it in the OS
// keyring, falling back to printing the env variable to set.
func storeToken(label, keyringKey, envVar string, keyringOK bool) {
	token, err := readSecret(label + " (hidden, Enter to skip): ")
	if err != nil {
		fmt.Printf("  [!] Could not read input: %v\n", err)
		return
	}
	if token == "" {
		fmt.Printf("  Skipped. Set %s before running serve.\n", envVar)
		return
	}
	if keyringOK {
		if err := config.StoreKeyring(keyringKey, token); err == nil {
			fmt.Println("  Token stored in the OS keyring.")
			return
		}
	}
	fmt.Printf("  No keyring available. Export it instead:\n")
	fmt.Printf("    export %s=<token>\n", envVar)
}

// readSecret reads a line without echoing it to the terminal.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
