package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/store"
)

// farFuture is a valid spec that never fires during a test run.
const farFuture = "0 0 1 1 *"

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *Storage) {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	if runner == nil {
		runner = func(context.Context, string, string, string, string) error { return nil }
	}
	storage := NewStorage(st.DB())
	s := New(storage, runner, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, storage
}

func TestSchedule_ValidatesSpec(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, nil)

	if _, err := s.Schedule("not a cron", "bad", "p", "telegram", "100"); err == nil {
		t.Fatal("expected invalid spec to be rejected")
	}

	id, err := s.Schedule(farFuture, "yearly", "p", "telegram", "100")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated job ID")
	}
}

func TestSchedule_PersistsAcrossRestart(t *testing.T) {
	t.Parallel()
	s, storage := newTestScheduler(t, nil)

	id, err := s.Schedule(farFuture, "report", "daily summary", "telegram", "100")
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()

	// A fresh scheduler over the same storage picks the job back up.
	s2 := New(storage, func(context.Context, string, string, string, string) error { return nil }, nil)
	if err := s2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s2.Stop)

	jobs, err := s2.Jobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job after restart, got %d", len(jobs))
	}
	if jobs[0].ID != id || jobs[0].Name != "report" || jobs[0].Spec != farFuture {
		t.Errorf("unexpected job %+v", jobs[0])
	}
	if jobs[0].NextRun.IsZero() {
		t.Error("expected enabled job to have a next fire time")
	}
}

func TestEnable_TogglesJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestScheduler(t, nil)

	id, err := s.Schedule(farFuture, "j", "p", "telegram", "100")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Enable(id, false); err != nil {
		t.Fatal(err)
	}
	jobs, _ := s.Jobs()
	if len(jobs) != 1 || !jobs[0].Disabled {
		t.Fatalf("expected disabled job, got %+v", jobs)
	}
	if !jobs[0].NextRun.IsZero() {
		t.Error("expected no next fire time while disabled")
	}

	if err := s.Enable(id, true); err != nil {
		t.Fatal(err)
	}
	jobs, _ = s.Jobs()
	if jobs[0].Disabled {
		t.Error("expected job re-enabled")
	}

	if err := s.Enable("missing", true); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestRemove_DeletesJob(t *testing.T) {
	t.Parallel()
	s, storage := newTestScheduler(t, nil)

	id, err := s.Schedule(farFuture, "j", "p", "telegram", "100")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatal(err)
	}

	jobs, _ := s.Jobs()
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
	persisted, err := storage.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != 0 {
		t.Errorf("expected row deleted, got %d", len(persisted))
	}

	if err := s.Remove(id); err == nil {
		t.Error("expected error removing twice")
	}
}

func TestExecute_FiresRunner(t *testing.T) {
	t.Parallel()

	fired := make(chan string, 4)
	s, _ := newTestScheduler(t, func(_ context.Context, channel, chatID, name, prompt string) error {
		fired <- channel + "/" + chatID + "/" + name + "/" + prompt
		return nil
	})

	if _, err := s.Schedule("@every 1s", "ping", "say hi", "telegram", "100"); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-fired:
		if got != "telegram/100/ping/say hi" {
			t.Errorf("unexpected runner args %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}
}

func TestExecute_RecordsLastRun(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s, storage := newTestScheduler(t, func(context.Context, string, string, string, string) error {
		runs.Add(1)
		return nil
	})

	id, err := s.Schedule("@every 1s", "j", "p", "telegram", "100")
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	// The run marker is persisted so a restart does not refire immediately.
	waitPersist := time.After(2 * time.Second)
	for {
		jobs, err := storage.LoadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(jobs) == 1 && jobs[0].ID == id && jobs[0].LastRunAt != nil {
			if jobs[0].RunCount < 1 {
				t.Errorf("expected run count recorded, got %d", jobs[0].RunCount)
			}
			return
		}
		select {
		case <-waitPersist:
			t.Fatal("run marker never persisted")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestStorage_RoundTrip(t *testing.T) {
	t.Parallel()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	storage := NewStorage(st.DB())

	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:        "j1",
		Name:      "nightly",
		Schedule:  "0 3 * * *",
		Prompt:    "rotate logs",
		Channel:   "discord",
		ChatID:    "guild-1",
		Enabled:   true,
		CreatedAt: now,
		LastRunAt: &now,
		LastError: "timeout",
		RunCount:  7,
	}
	if err := storage.Save(job); err != nil {
		t.Fatal(err)
	}

	jobs, err := storage.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.Name != "nightly" || got.Prompt != "rotate logs" || got.RunCount != 7 || got.LastError != "timeout" {
		t.Errorf("unexpected job %+v", got)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("expected last run %v, got %v", now, got.LastRunAt)
	}

	if err := storage.Delete("j1"); err != nil {
		t.Fatal(err)
	}
	jobs, _ = storage.LoadAll()
	if len(jobs) != 0 {
		t.Errorf("expected empty table, got %d", len(jobs))
	}
}
