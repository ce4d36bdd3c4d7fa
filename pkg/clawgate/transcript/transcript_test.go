package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func msg(i int, dir store.Direction, sender, content string) *store.Message {
	return &store.Message{
		ID:        int64(i),
		Direction: dir,
		Sender:    sender,
		Content:   content,
		CreatedAt: base.Add(time.Duration(i) * time.Minute),
	}
}

func TestFormat_Empty(t *testing.T) {
	t.Parallel()
	res := Format(nil, DefaultOptions())
	if res.Text != "" || res.UsedCount != 0 || res.Truncated {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestFormat_Basic(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "alice", "deploy the api"),
		msg(2, store.DirOutgoing, "", "Working on it."),
	}

	res := Format(messages, DefaultOptions())
	if res.UsedCount != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", res.UsedCount, res.Text)
	}
	lines := strings.Split(res.Text, "\n")
	if !strings.Contains(lines[0], "alice: deploy the api") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	// Outgoing messages without a sender render as the assistant.
	if !strings.Contains(lines[1], "assistant: Working on it.") {
		t.Errorf("unexpected second line %q", lines[1])
	}
	if !strings.Contains(lines[0], "[2026-03-14 09:01]") {
		t.Errorf("expected UTC timestamp prefix, got %q", lines[0])
	}
}

func TestFormat_KeepsMostRecent(t *testing.T) {
	t.Parallel()
	var messages []*store.Message
	for i := 1; i <= 200; i++ {
		messages = append(messages, msg(i, store.DirIncoming, "u", fmt.Sprintf("message %d", i)))
	}

	opts := DefaultOptions()
	opts.MaxChars = 0 // isolate the message-count budget
	res := Format(messages, opts)

	if res.UsedCount != 50 {
		t.Fatalf("expected the 50 most recent messages, got %d", res.UsedCount)
	}
	if !res.Truncated {
		t.Error("expected truncation to be reported")
	}
	lines := strings.Split(res.Text, "\n")
	if !strings.Contains(lines[0], "message 151") {
		t.Errorf("expected window to start at message 151, got %q", lines[0])
	}
	if !strings.Contains(lines[len(lines)-1], "message 200") {
		t.Errorf("expected chronological order ending at message 200, got %q", lines[len(lines)-1])
	}
}

func TestFormat_CharBudget(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "u", strings.Repeat("a", 200)),
		msg(2, store.DirIncoming, "u", strings.Repeat("b", 200)),
		msg(3, store.DirIncoming, "u", strings.Repeat("c", 200)),
	}

	opts := DefaultOptions()
	opts.MaxChars = 500
	res := Format(messages, opts)

	if len(res.Text) > 500 {
		t.Fatalf("output exceeds budget: %d chars", len(res.Text))
	}
	if !res.Truncated {
		t.Error("expected truncation flag")
	}
	// The newest message always survives.
	if !strings.Contains(res.Text, "ccc") {
		t.Error("expected the most recent message to be kept")
	}
}

func TestFormat_SingleOversizedMessage(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "u", strings.Repeat("x", 5000)),
	}

	opts := DefaultOptions()
	opts.MaxChars = 300
	opts.MaxMessageChars = 0
	res := Format(messages, opts)

	if res.UsedCount != 1 {
		t.Fatalf("expected the oversized message to be emitted cut-to-fit, got %d lines", res.UsedCount)
	}
	if len(res.Text) > 300 {
		t.Errorf("expected hard truncation to the budget, got %d chars", len(res.Text))
	}
	if !res.Truncated {
		t.Error("expected truncation flag")
	}
}

func TestFormat_Filters(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "u", "/status"),
		msg(2, store.DirIncoming, "u", "real question"),
		msg(3, store.DirOutgoing, "", "answer"),
		msg(4, store.DirIncoming, "u", "   "),
	}

	opts := DefaultOptions()
	res := Format(messages, opts)
	if res.UsedCount != 2 {
		t.Fatalf("expected commands and blanks stripped, got %d: %q", res.UsedCount, res.Text)
	}

	opts.IncludeOutgoing = false
	res = Format(messages, opts)
	if res.UsedCount != 1 || !strings.Contains(res.Text, "real question") {
		t.Errorf("expected incoming-only filter, got %q", res.Text)
	}

	opts = DefaultOptions()
	opts.Since = base.Add(150 * time.Second)
	res = Format(messages, opts)
	if strings.Contains(res.Text, "real question") {
		t.Errorf("expected Since to exclude older messages, got %q", res.Text)
	}
}

func TestFormat_MessageCharCap(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "u", strings.Repeat("y", 2000)),
	}

	res := Format(messages, DefaultOptions())
	if !strings.Contains(res.Text, "…") {
		t.Error("expected per-message truncation marker")
	}
}

func TestFormat_Attachments(t *testing.T) {
	t.Parallel()
	m := msg(1, store.DirIncoming, "u", "see the file")
	m.Attachments = []string{"report.pdf"}

	res := Format([]*store.Message{m}, DefaultOptions())
	if !strings.Contains(res.Text, "[1 attachment(s): report.pdf]") {
		t.Errorf("expected attachment suffix, got %q", res.Text)
	}
}

func TestFormat_Deterministic(t *testing.T) {
	t.Parallel()
	messages := []*store.Message{
		msg(1, store.DirIncoming, "a", "one"),
		msg(2, store.DirOutgoing, "", "two"),
		msg(3, store.DirIncoming, "b", "three"),
	}
	first := Format(messages, DefaultOptions())
	for i := 0; i < 5; i++ {
		if got := Format(messages, DefaultOptions()); got != first {
			t.Fatalf("expected deterministic output, got %+v vs %+v", got, first)
		}
	}
}
