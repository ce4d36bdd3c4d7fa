package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/access"
	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
	"github.com/jholhewres/clawgate/pkg/clawgate/engine"
	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// newGatewayFixture wires a Gateway over an in-memory store, the default
// access policy and one connected fake adapter named "plain".
func newGatewayFixture(t *testing.T) (*Gateway, *store.Store, *fakeAdapter) {
	t.Helper()

	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := channels.NewManager(nil)
	plain := &fakeAdapter{name: "plain"}
	if err := mgr.Register(plain); err != nil {
		t.Fatal(err)
	}

	g := New(Deps{
		Store:    st,
		Policy:   access.NewPolicy(st, nil),
		Engine:   engine.Unavailable{},
		Channels: mgr,
		Config:   Config{DefaultWorkspaceID: "ws-test", BotName: "ClawGate"},
	})
	return g, st, plain
}

func TestHandleMessage_UnauthorizedStillAudited(t *testing.T) {
	t.Parallel()
	g, st, plain := newGatewayFixture(t)

	// First contact from an unpaired DM sender: blocked, but the message
	// must land in the transcript anyway.
	g.handleMessage(context.Background(), &channels.IncomingMessage{
		ID:       "m1",
		Channel:  "plain",
		ChatID:   "100",
		From:     "stranger",
		FromName: "Stranger",
		Content:  "hello there",
	})

	sess, err := st.FindSessionByChat("plain", "100")
	if err != nil {
		t.Fatalf("expected session resolved for denied sender: %v", err)
	}
	msgs, err := st.RecentMessages(sess.ID, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 audited message, got %d", len(msgs))
	}
	if msgs[0].Direction != store.DirIncoming || msgs[0].Content != "hello there" {
		t.Errorf("unexpected audit row %+v", msgs[0])
	}
	if msgs[0].Sender != "stranger" {
		t.Errorf("expected sender recorded, got %q", msgs[0].Sender)
	}

	// The sender still got the pairing prompt, nothing else.
	sends := plain.sent()
	if len(sends) != 1 || !strings.Contains(sends[0], "not paired") {
		t.Errorf("expected pairing prompt, got %v", sends)
	}
}

func TestHandleMessage_UnauthorizedGroupAuditedSilently(t *testing.T) {
	t.Parallel()
	g, st, plain := newGatewayFixture(t)

	g.handleMessage(context.Background(), &channels.IncomingMessage{
		ID:      "m1",
		Channel: "plain",
		ChatID:  "group-1",
		From:    "stranger",
		Content: "do something",
		IsGroup: true,
	})

	sess, err := st.FindSessionByChat("plain", "group-1")
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := st.RecentMessages(sess.ID, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "do something" {
		t.Fatalf("expected the group message audited, got %v", msgs)
	}
	if got := plain.sent(); len(got) != 0 {
		t.Errorf("expected silence toward an unpaired group sender, got %v", got)
	}
}

func TestStashAttachment_ReturnsWorkspaceRelativePath(t *testing.T) {
	t.Parallel()
	g, st, _ := newGatewayFixture(t)

	ws := &store.Workspace{Name: "default", Path: t.TempDir()}
	if err := st.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}
	sess, err := st.GetOrCreateSession("plain", "100", ws.ID)
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "download.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	rel, err := g.stashAttachment(sess, src, "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.IsAbs(rel) {
		t.Fatalf("expected workspace-relative path, got %q", rel)
	}
	if filepath.Dir(rel) != "attachments" || !strings.HasSuffix(rel, "-report.pdf") {
		t.Errorf("unexpected attachment path %q", rel)
	}

	data, err := os.ReadFile(filepath.Join(ws.Path, rel))
	if err != nil {
		t.Fatalf("expected the copy under the workspace root: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected copied content %q", data)
	}
}

func TestDigest_EmptyWindowReplies(t *testing.T) {
	t.Parallel()
	g, st, plain := newGatewayFixture(t)

	sess, err := st.GetOrCreateSession("plain", "100", "ws-test")
	if err != nil {
		t.Fatal(err)
	}
	cc := &CommandContext{
		Msg:      &channels.IncomingMessage{ID: "m1", Channel: "plain", ChatID: "100", From: "u1"},
		Session:  sess,
		Decision: access.Decision{Allowed: true},
		Line:     "/digest",
	}

	if err := g.cmdDigest(context.Background(), cc); err != nil {
		t.Fatal(err)
	}

	sends := plain.sent()
	if len(sends) != 1 || sends[0] != "No messages found for that timeframe." {
		t.Fatalf("expected the empty-window reply, got %v", sends)
	}
}

func TestReplayRoutes_RebuildsActiveTasks(t *testing.T) {
	t.Parallel()
	g, st, _ := newGatewayFixture(t)

	mk := func(chat, taskID string, status store.TaskStatus, sender string) {
		t.Helper()
		sess, err := st.GetOrCreateSession("plain", chat, "ws-test")
		if err != nil {
			t.Fatal(err)
		}
		task := &store.Task{ID: taskID, WorkspaceID: "ws-test", Title: "t", Prompt: "p"}
		if err := st.CreateTask(task); err != nil {
			t.Fatal(err)
		}
		if err := st.SetTaskStatus(taskID, status, ""); err != nil {
			t.Fatal(err)
		}
		if err := st.LinkSessionTask(sess.ID, taskID); err != nil {
			t.Fatal(err)
		}
		if sender != "" {
			snap := &store.SenderSnapshot{UserID: sender}
			if err := st.UpdateSessionContext(sess.ID, store.ContextPatch{LastSender: snap}); err != nil {
				t.Fatal(err)
			}
		}
	}

	mk("100", "t-running", store.TaskExecuting, "alice")
	mk("200", "t-done", store.TaskCompleted, "bob")

	g.replayRoutes("plain")

	route, ok := g.routes.Get("t-running")
	if !ok {
		t.Fatal("expected route rebuilt for the running task")
	}
	if route.ChatID != "100" || route.Channel != "plain" {
		t.Errorf("unexpected route %+v", route)
	}
	if route.Requester != "alice" {
		t.Errorf("expected requester from the sender snapshot, got %q", route.Requester)
	}
	if _, ok := g.routes.Get("t-done"); ok {
		t.Error("completed task must not get a route")
	}
}

func TestReplayRoutes_ExistingRouteWins(t *testing.T) {
	t.Parallel()
	g, st, _ := newGatewayFixture(t)

	sess, err := st.GetOrCreateSession("plain", "100", "ws-test")
	if err != nil {
		t.Fatal(err)
	}
	task := &store.Task{ID: "t1", WorkspaceID: "ws-test", Title: "t", Prompt: "p"}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	if err := st.SetTaskStatus("t1", store.TaskExecuting, ""); err != nil {
		t.Fatal(err)
	}
	if err := st.LinkSessionTask(sess.ID, "t1"); err != nil {
		t.Fatal(err)
	}

	g.routes.Put(&Route{
		TaskID: "t1", Channel: "plain", ChatID: "100",
		SessionID: sess.ID, Requester: "fresh", LastMessageID: "m9",
	})

	g.replayRoutes("plain")

	route, ok := g.routes.Get("t1")
	if !ok {
		t.Fatal("expected route kept")
	}
	if route.Requester != "fresh" || route.LastMessageID != "m9" {
		t.Errorf("expected the live route untouched by replay, got %+v", route)
	}
}
