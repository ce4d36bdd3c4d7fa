package gateway

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// fakeAdapter is a connected adapter that records every SendText.
type fakeAdapter struct {
	name string

	mu    sync.Mutex
	sends []string
}

func (f *fakeAdapter) Name() string                     { return f.name }
func (f *fakeAdapter) Connect(context.Context) error    { return nil }
func (f *fakeAdapter) Disconnect() error                { return nil }
func (f *fakeAdapter) IsConnected() bool                { return true }
func (f *fakeAdapter) Health() channels.HealthStatus    { return channels.HealthStatus{Connected: true} }
func (f *fakeAdapter) Receive() <-chan *channels.IncomingMessage {
	return make(chan *channels.IncomingMessage)
}

func (f *fakeAdapter) SendText(_ context.Context, _ string, msg *channels.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, msg.Content)
	return strconv.Itoa(len(f.sends)), nil
}

func (f *fakeAdapter) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// fakeDraftAdapter additionally supports in-place edits and draft streams.
type fakeDraftAdapter struct {
	fakeAdapter

	mu     sync.Mutex
	drafts []*fakeDraft
}

func (f *fakeDraftAdapter) EditMessageText(context.Context, string, string, string) error {
	return nil
}

func (f *fakeDraftAdapter) EditMessageKeyboard(context.Context, string, string, []channels.InlineButton) error {
	return nil
}

func (f *fakeDraftAdapter) StartDraft(_ context.Context, _ string, text string) (channels.DraftStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDraft{texts: []string{text}}
	f.drafts = append(f.drafts, d)
	return d, nil
}

type fakeDraft struct {
	mu        sync.Mutex
	texts     []string
	finalText string
	canceled  bool
}

func (d *fakeDraft) Update(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
	return nil
}

func (d *fakeDraft) Finalize(_ context.Context, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalText = text
	return "final-1", nil
}

func (d *fakeDraft) Cancel(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = true
	return nil
}

func newStreamFixture(t *testing.T, window time.Duration) (*StreamCoordinator, *fakeAdapter, *fakeDraftAdapter) {
	t.Helper()
	mgr := channels.NewManager(nil)
	plain := &fakeAdapter{name: "plain"}
	draft := &fakeDraftAdapter{fakeAdapter: fakeAdapter{name: "draft"}}
	if err := mgr.Register(plain); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Register(draft); err != nil {
		t.Fatal(err)
	}
	return NewStreamCoordinator(mgr, window, nil), plain, draft
}

func TestStreamCoordinator_DebounceCoalesces(t *testing.T) {
	t.Parallel()
	c, plain, _ := newStreamFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	c.OnPartial(ctx, r, "one")
	c.OnPartial(ctx, r, "one two")
	c.OnPartial(ctx, r, "one two three")

	time.Sleep(200 * time.Millisecond)

	sends := plain.sent()
	if len(sends) != 1 {
		t.Fatalf("expected burst to coalesce into 1 send, got %d: %v", len(sends), sends)
	}
	if sends[0] != "one two three" {
		t.Errorf("expected latest text to win, got %q", sends[0])
	}
}

func TestStreamCoordinator_FlushSendsImmediately(t *testing.T) {
	t.Parallel()
	c, plain, _ := newStreamFixture(t, time.Minute)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	c.OnPartial(ctx, r, "buffered")
	c.Flush(ctx, "t1")

	sends := plain.sent()
	if len(sends) != 1 || sends[0] != "buffered" {
		t.Fatalf("expected immediate flush send, got %v", sends)
	}

	// The armed timer must not fire a second send later.
	time.Sleep(100 * time.Millisecond)
	if got := plain.sent(); len(got) != 1 {
		t.Errorf("expected no send after flush, got %v", got)
	}
}

func TestStreamCoordinator_DiscardDropsBuffer(t *testing.T) {
	t.Parallel()
	c, plain, _ := newStreamFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	c.OnPartial(ctx, r, "stale partial")
	c.Discard(ctx, "t1")

	time.Sleep(100 * time.Millisecond)
	if got := plain.sent(); len(got) != 0 {
		t.Errorf("expected discarded buffer never to send, got %v", got)
	}
}

func TestStreamCoordinator_DraftStream(t *testing.T) {
	t.Parallel()
	c, _, draftAdapter := newStreamFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "draft", ChatID: "100"}

	c.OnPartial(ctx, r, "first")
	c.OnPartial(ctx, r, "first second")

	draftAdapter.mu.Lock()
	if len(draftAdapter.drafts) != 1 {
		draftAdapter.mu.Unlock()
		t.Fatalf("expected one draft stream, got %d", len(draftAdapter.drafts))
	}
	d := draftAdapter.drafts[0]
	draftAdapter.mu.Unlock()

	d.mu.Lock()
	texts := append([]string(nil), d.texts...)
	d.mu.Unlock()
	if len(texts) != 2 || texts[1] != "first second" {
		t.Errorf("expected in-place updates, got %v", texts)
	}

	id, ok := c.FinalizeDraft(ctx, "t1", "done")
	if !ok || id != "final-1" {
		t.Fatalf("expected finalize to return the message ID, got %q ok=%v", id, ok)
	}
	if d.finalText != "done" {
		t.Errorf("expected final text written, got %q", d.finalText)
	}

	// A finalized draft is released; finalizing again misses.
	if _, ok := c.FinalizeDraft(ctx, "t1", "again"); ok {
		t.Error("expected second finalize to miss")
	}
}

// blockingAdapter parks every SendText until released, to pin a send
// in flight.
type blockingAdapter struct {
	fakeAdapter
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) SendText(ctx context.Context, chatID string, msg *channels.OutgoingMessage) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeAdapter.SendText(ctx, chatID, msg)
}

func TestStreamCoordinator_DiscardWaitsForInflightSend(t *testing.T) {
	t.Parallel()
	mgr := channels.NewManager(nil)
	blocking := &blockingAdapter{
		fakeAdapter: fakeAdapter{name: "plain"},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	if err := mgr.Register(blocking); err != nil {
		t.Fatal(err)
	}
	c := NewStreamCoordinator(mgr, 10*time.Millisecond, nil)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	c.OnPartial(ctx, r, "in flight")
	select {
	case <-blocking.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced send never started")
	}

	done := make(chan struct{})
	go func() {
		c.Discard(ctx, "t1")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Discard returned while a send was still on the wire")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Discard never returned after the send finished")
	}
	if got := blocking.sent(); len(got) != 1 || got[0] != "in flight" {
		t.Errorf("expected the in-flight partial delivered before Discard returned, got %v", got)
	}
}

func TestStreamCoordinator_StaleTimerFireAfterDiscard(t *testing.T) {
	t.Parallel()
	c, plain, _ := newStreamFixture(t, time.Minute)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	c.OnPartial(ctx, r, "stale")
	c.Discard(ctx, "t1")

	// A timer callback that lost the race to Stop must find the buffer gone
	// and send nothing.
	c.fire("t1")
	if got := plain.sent(); len(got) != 0 {
		t.Errorf("expected stale fire to be a no-op, got %v", got)
	}
}

func TestStreamCoordinator_OversizedPartialSplits(t *testing.T) {
	t.Parallel()
	c, plain, _ := newStreamFixture(t, 20*time.Millisecond)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "plain", ChatID: "100"}

	limit := channels.MaxMessageLength("plain")
	big := strings.Repeat("lorem ipsum dolor sit amet ", (2*limit)/27+1)
	c.OnPartial(ctx, r, big)

	time.Sleep(300 * time.Millisecond)

	sends := plain.sent()
	if len(sends) < 2 {
		t.Fatalf("expected oversized partial split into multiple sends, got %d", len(sends))
	}
	for i, s := range sends {
		if len(s) > limit {
			t.Errorf("send %d exceeds the platform limit: %d > %d", i, len(s), limit)
		}
	}
}

func TestStreamCoordinator_DiscardCancelsDraft(t *testing.T) {
	t.Parallel()
	c, _, draftAdapter := newStreamFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	r := &Route{TaskID: "t1", Channel: "draft", ChatID: "100"}

	c.OnPartial(ctx, r, "partial")
	c.Discard(ctx, "t1")

	draftAdapter.mu.Lock()
	d := draftAdapter.drafts[0]
	draftAdapter.mu.Unlock()
	d.mu.Lock()
	canceled := d.canceled
	d.mu.Unlock()
	if !canceled {
		t.Error("expected discard to cancel the live draft")
	}
}
