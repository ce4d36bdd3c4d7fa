package gateway

import (
	"fmt"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
)

func TestParseScheduleSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		sub        string
		rest       []string
		wantSpec   string
		wantPrompt string
		wantErr    bool
	}{
		{
			name: "daily", sub: "daily", rest: []string{"09:30", "check", "the", "mail"},
			wantSpec: "30 9 * * *", wantPrompt: "check the mail",
		},
		{
			name: "weekdays", sub: "weekdays", rest: []string{"08:00", "standup", "notes"},
			wantSpec: "0 8 * * 1-5", wantPrompt: "standup notes",
		},
		{
			name: "weekly", sub: "weekly", rest: []string{"mon", "10:15", "weekly", "report"},
			wantSpec: "15 10 * * 1", wantPrompt: "weekly report",
		},
		{
			name: "every", sub: "every", rest: []string{"30m", "poll", "the", "feed"},
			wantSpec: "@every 30m0s", wantPrompt: "poll the feed",
		},
		{
			name: "raw cron", sub: "at", rest: []string{"0", "12", "*", "*", "1", "lunch", "reminder"},
			wantSpec: "0 12 * * 1", wantPrompt: "lunch reminder",
		},
		{name: "daily missing prompt", sub: "daily", rest: []string{"09:30"}, wantErr: true},
		{name: "daily bad time", sub: "daily", rest: []string{"25:99", "p"}, wantErr: true},
		{name: "weekly bad weekday", sub: "weekly", rest: []string{"funday", "09:00", "p"}, wantErr: true},
		{name: "every below minimum", sub: "every", rest: []string{"20s", "p"}, wantErr: true},
		{name: "every bad duration", sub: "every", rest: []string{"soon", "p"}, wantErr: true},
		{name: "at too few fields", sub: "at", rest: []string{"0", "12", "*", "p"}, wantErr: true},
		{name: "unknown form", sub: "fortnightly", rest: []string{"p"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec, prompt, err := parseScheduleSpec(tt.sub, tt.rest)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q / %q", spec, prompt)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if spec != tt.wantSpec || prompt != tt.wantPrompt {
				t.Errorf("got %q / %q, want %q / %q", spec, prompt, tt.wantSpec, tt.wantPrompt)
			}
		})
	}
}

func TestDailyCron(t *testing.T) {
	t.Parallel()

	if spec, err := dailyCron("07:05"); err != nil || spec != "5 7 * * *" {
		t.Errorf("dailyCron(07:05) = %q, %v", spec, err)
	}
	if _, err := dailyCron("7am"); err == nil {
		t.Error("expected error for non HH:MM input")
	}
}

func TestParseLookback(t *testing.T) {
	t.Parallel()
	now := time.Now()

	tests := []struct {
		name      string
		arg       string
		wantCount int
		wantSince time.Duration // 0 means zero time expected
	}{
		{name: "empty means defaults", arg: ""},
		{name: "count", arg: "50", wantCount: 50},
		{name: "hours", arg: "6h", wantSince: 6 * time.Hour},
		{name: "days", arg: "2d", wantSince: 48 * time.Hour},
		{name: "garbage falls back", arg: "soonish"},
		{name: "negative falls back", arg: "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			since, count := parseLookback(tt.arg)
			if count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}
			if tt.wantSince == 0 {
				if !since.IsZero() {
					t.Errorf("expected zero since, got %v", since)
				}
				return
			}
			got := now.Sub(since)
			if got < tt.wantSince-time.Minute || got > tt.wantSince+time.Minute {
				t.Errorf("since = %v ago, want about %v", got, tt.wantSince)
			}
		})
	}
}

func TestUserError(t *testing.T) {
	t.Parallel()

	if got := userError(fmt.Errorf("start: %w", engine.ErrUnavailable)); got != "No agent engine is configured." {
		t.Errorf("unexpected engine-unavailable text %q", got)
	}
	if got := userError(fmt.Errorf("flow: %w", ErrExpiredFlow)); got != "That expired — run the command again." {
		t.Errorf("unexpected expired-flow text %q", got)
	}
	if got := userError(fmt.Errorf("no workspace named %q", "x")); got != `no workspace named "x"` {
		t.Errorf("unexpected passthrough %q", got)
	}
}

func TestCommandContext_ArgLine(t *testing.T) {
	t.Parallel()

	cc := &CommandContext{Line: "/digest  6h extra"}
	if got := cc.ArgLine(); got != "6h extra" {
		t.Errorf("ArgLine = %q", got)
	}
	cc = &CommandContext{Line: "/digest"}
	if got := cc.ArgLine(); got != "" {
		t.Errorf("ArgLine = %q, want empty", got)
	}
}

func TestCommandSet_Aliases(t *testing.T) {
	t.Parallel()

	cs := newCommandSet(nil)
	for alias, canonical := range map[string]string{
		"yes": "approve",
		"y":   "approve",
		"no":  "deny",
		"new": "newtask",
		"ws":  "workspace",
	} {
		cmd, ok := cs.byName[alias]
		if !ok {
			t.Errorf("alias %q not registered", alias)
			continue
		}
		if cmd.Name != canonical {
			t.Errorf("alias %q resolves to %q, want %q", alias, cmd.Name, canonical)
		}
	}
	if cmd := cs.byName["debug"]; cmd == nil || !cmd.Hidden {
		t.Error("expected debug registered but hidden")
	}
}
