// Package transcript serializes a message history window into one
// prompt-ready block. Output is deterministic: given the same messages and
// options it always produces the same text, the same counts, and the same
// truncation decisions. Used by the read-only /digest and /followups
// commands, whose output is fed to the model as untrusted history.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// Options controls the transcript window and budgets.
type Options struct {
	// IncludeIncoming / IncludeOutgoing filter by direction. Both default
	// to true when neither is set via DefaultOptions.
	IncludeIncoming bool
	IncludeOutgoing bool

	// Since / Until bound the window; zero means unbounded.
	Since time.Time
	Until time.Time

	// StripCommands drops messages that start with "/".
	StripCommands bool

	// MaxMessages caps how many messages are kept (most recent win).
	MaxMessages int

	// MaxChars caps total output length.
	MaxChars int

	// MaxMessageChars caps a single message's content length.
	MaxMessageChars int
}

// DefaultOptions returns the budgets used by the digest commands.
func DefaultOptions() Options {
	return Options{
		IncludeIncoming: true,
		IncludeOutgoing: true,
		StripCommands:   true,
		MaxMessages:     50,
		MaxChars:        12000,
		MaxMessageChars: 1000,
	}
}

// Result is the formatted transcript plus accounting.
type Result struct {
	Text      string
	UsedCount int
	Truncated bool
}

// Format renders messages (chronological input expected) into transcript
// lines. When over budget, the most recent messages are kept; if even one
// message does not fit, it is hard-truncated rather than emitting an empty
// transcript.
func Format(messages []*store.Message, opts Options) Result {
	eligible := filter(messages, opts)
	if len(eligible) == 0 {
		return Result{}
	}

	truncated := false
	if opts.MaxMessages > 0 && len(eligible) > opts.MaxMessages {
		eligible = eligible[len(eligible)-opts.MaxMessages:]
		truncated = true
	}

	// Render newest-first so the budget keeps recent messages, then
	// reverse the kept lines back to chronological order.
	var (
		kept  []string
		total int
	)
	for i := len(eligible) - 1; i >= 0; i-- {
		line := renderLine(eligible[i], opts)
		cost := len(line)
		if len(kept) > 0 {
			cost++ // newline separator
		}
		if opts.MaxChars > 0 && total+cost > opts.MaxChars {
			if len(kept) == 0 {
				// A single over-budget message is still emitted, cut to fit.
				line = hardTruncate(line, opts.MaxChars)
				kept = append(kept, line)
				total = len(line)
				truncated = true
			} else {
				truncated = true
			}
			break
		}
		kept = append(kept, line)
		total += cost
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	return Result{
		Text:      strings.Join(kept, "\n"),
		UsedCount: len(kept),
		Truncated: truncated || len(kept) < len(eligible),
	}
}

func filter(messages []*store.Message, opts Options) []*store.Message {
	var out []*store.Message
	for _, m := range messages {
		switch m.Direction {
		case store.DirIncoming:
			if !opts.IncludeIncoming {
				continue
			}
		case store.DirOutgoing, store.DirOutgoingLocal:
			if !opts.IncludeOutgoing {
				continue
			}
		}
		if !opts.Since.IsZero() && m.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && m.CreatedAt.After(opts.Until) {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" && len(m.Attachments) == 0 {
			continue
		}
		if opts.StripCommands && strings.HasPrefix(content, "/") {
			continue
		}
		out = append(out, m)
	}
	return out
}

// renderLine formats one message as "[timestamp] speaker: content [files]".
func renderLine(m *store.Message, opts Options) string {
	speaker := m.SenderName
	if speaker == "" {
		speaker = m.Sender
	}
	if speaker == "" {
		if m.Direction == store.DirIncoming {
			speaker = "user"
		} else {
			speaker = "assistant"
		}
	}

	content := strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " ")
	if opts.MaxMessageChars > 0 && len(content) > opts.MaxMessageChars {
		content = content[:opts.MaxMessageChars] + "…"
	}

	line := fmt.Sprintf("[%s] %s: %s",
		m.CreatedAt.UTC().Format("2006-01-02 15:04"), speaker, content)
	if len(m.Attachments) > 0 {
		line += fmt.Sprintf(" [%d attachment(s): %s]",
			len(m.Attachments), strings.Join(m.Attachments, ", "))
	}
	return line
}

func hardTruncate(line string, max int) string {
	if len(line) <= max {
		return line
	}
	if max <= len("…") {
		return line[:max]
	}
	return line[:max-len("…")] + "…"
}
