package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSessions_GetOrCreate(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession("telegram", "100", "ws-default")
	if err != nil {
		t.Fatal(err)
	}
	if sess.WorkspaceID != "ws-default" {
		t.Errorf("expected default workspace bound, got %q", sess.WorkspaceID)
	}
	if sess.Context.Version != 1 {
		t.Errorf("expected context version 1, got %d", sess.Context.Version)
	}

	again, err := st.GetOrCreateSession("telegram", "100", "ws-other")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != sess.ID {
		t.Error("expected the existing session to be reused")
	}
	if again.WorkspaceID != "ws-default" {
		t.Error("expected existing workspace binding to be kept")
	}
}

func TestSessions_TaskLinking(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession("telegram", "100", "ws")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.LinkSessionTask(sess.ID, "t1"); err != nil {
		t.Fatal(err)
	}

	got, _ := st.FindSessionByID(sess.ID)
	if got.TaskID != "t1" {
		t.Fatalf("expected task link, got %q", got.TaskID)
	}

	// A session that moved to a newer task must not be unlinked by the old
	// task's terminal event.
	if err := st.LinkSessionTask(sess.ID, "t2"); err != nil {
		t.Fatal(err)
	}
	if err := st.UnlinkSessionTask(sess.ID, "t1"); err != nil {
		t.Fatal(err)
	}
	got, _ = st.FindSessionByID(sess.ID)
	if got.TaskID != "t2" {
		t.Errorf("expected newer link kept, got %q", got.TaskID)
	}

	if err := st.UnlinkSessionTask(sess.ID, "t2"); err != nil {
		t.Fatal(err)
	}
	got, _ = st.FindSessionByID(sess.ID)
	if got.TaskID != "" {
		t.Errorf("expected link cleared, got %q", got.TaskID)
	}
}

func TestSessions_ContextPatch(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	sess, err := st.GetOrCreateSession("telegram", "100", "ws")
	if err != nil {
		t.Fatal(err)
	}

	provider := "anthropic"
	if err := st.UpdateSessionContext(sess.ID, ContextPatch{Provider: &provider}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateSessionContext(sess.ID, ContextPatch{
		PendingSelection: &PendingSelection{Kind: SelectModel, Options: []string{"a", "b"}},
	}); err != nil {
		t.Fatal(err)
	}

	got, _ := st.FindSessionByID(sess.ID)
	if got.Context.Provider != "anthropic" {
		t.Error("expected provider to survive the second patch")
	}
	if got.Context.PendingSelection == nil || got.Context.PendingSelection.Kind != SelectModel {
		t.Errorf("expected pending selection, got %+v", got.Context.PendingSelection)
	}

	if err := st.UpdateSessionContext(sess.ID, ContextPatch{ClearSelection: true}); err != nil {
		t.Fatal(err)
	}
	got, _ = st.FindSessionByID(sess.ID)
	if got.Context.PendingSelection != nil {
		t.Error("expected selection cleared")
	}
	if got.Context.Provider != "anthropic" {
		t.Error("expected provider untouched by clear")
	}
}

func TestSessions_ActiveTaskRecovery(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	mk := func(chat, taskID string, status TaskStatus) {
		t.Helper()
		sess, err := st.GetOrCreateSession("telegram", chat, "ws")
		if err != nil {
			t.Fatal(err)
		}
		task := &Task{ID: taskID, WorkspaceID: "ws", Title: "t", Prompt: "p"}
		if err := st.CreateTask(task); err != nil {
			t.Fatal(err)
		}
		if status != TaskPending {
			if err := st.SetTaskStatus(taskID, status, ""); err != nil {
				t.Fatal(err)
			}
		}
		if err := st.LinkSessionTask(sess.ID, taskID); err != nil {
			t.Fatal(err)
		}
	}

	mk("100", "t-running", TaskExecuting)
	mk("200", "t-done", TaskCompleted)
	mk("300", "t-pending", TaskPending)

	active, err := st.ActiveTaskSessions("telegram")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 recoverable sessions, got %d", len(active))
	}
	for _, sess := range active {
		if sess.TaskID == "t-done" {
			t.Error("completed task must not be recovered")
		}
	}
}

func TestTasks_CRUD(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	task := &Task{WorkspaceID: "ws", Title: "Deploy", Prompt: "deploy the api"}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	if task.ID == "" {
		t.Fatal("expected generated task ID")
	}

	got, err := st.FindTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TaskPending {
		t.Errorf("expected pending status, got %q", got.Status)
	}

	if err := st.SetTaskStatus(task.ID, TaskFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	got, _ = st.FindTask(task.ID)
	if got.Status != TaskFailed || got.Error != "boom" {
		t.Errorf("unexpected task after failure: %+v", got)
	}

	if err := st.SetTaskStatus("missing", TaskExecuting, ""); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	if err := st.DeleteTask(task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.FindTask(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected task gone, got %v", err)
	}
}

func TestTasks_CorruptAgentConfigFailsClosed(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	task := &Task{WorkspaceID: "ws", Title: "t", Prompt: "p"}
	if err := st.CreateTask(task); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DB().Exec(
		"UPDATE tasks SET agent_config = '{broken' WHERE id = ?", task.ID); err != nil {
		t.Fatal(err)
	}

	got, err := st.FindTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.AgentConfig.ToolRestrictions) != 1 || got.AgentConfig.ToolRestrictions[0] != "*" {
		t.Errorf("expected deny-all restrictions on corrupt config, got %v", got.AgentConfig.ToolRestrictions)
	}
}

func TestArtifacts(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	if err := st.CreateArtifact(&Artifact{TaskID: "t1", Path: "/out/report.pdf", MimeType: "application/pdf"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateArtifact(&Artifact{TaskID: "t1", Path: "/out/data.csv"}); err != nil {
		t.Fatal(err)
	}

	got, err := st.TaskArtifacts("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(got))
	}
}

func TestMessages_RecentWindow(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	for i := 1; i <= 20; i++ {
		if err := st.AppendMessage(&Message{
			SessionID: "s1",
			Direction: DirIncoming,
			Sender:    "u",
			Content:   fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.RecentMessages("s1", time.Time{}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got))
	}
	if got[0].Content != "msg 16" || got[4].Content != "msg 20" {
		t.Errorf("expected chronological window of the newest messages, got %q..%q",
			got[0].Content, got[4].Content)
	}
}

func TestWorkspaces_CRUD(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	ws := &Workspace{Name: "default", Path: "/srv/work"}
	if err := st.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}
	if ws.ID == "" {
		t.Fatal("expected generated workspace ID")
	}

	got, err := st.FindWorkspaceByName("default")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != ws.ID || got.Path != "/srv/work" {
		t.Errorf("unexpected workspace %+v", got)
	}

	if _, err := st.FindWorkspaceByName("missing"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := st.ListWorkspaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 workspace, got %d", len(list))
	}
}

func TestUsers_GetOrCreate(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	u, err := st.GetOrCreateUser("telegram", "12345", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if u.Paired {
		t.Error("expected new users unpaired")
	}

	again, err := st.GetOrCreateUser("telegram", "12345", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != u.ID {
		t.Error("expected the same user row")
	}
	if again.DisplayName != "Alice" {
		t.Errorf("expected empty name not to clobber, got %q", again.DisplayName)
	}

	if err := st.SetUserPaired(u.ID, true); err != nil {
		t.Fatal(err)
	}
	paired, _ := st.GetOrCreateUser("telegram", "12345", "")
	if !paired.Paired {
		t.Error("expected pairing flag persisted")
	}
}
