package gateway

import (
	"sync"
	"testing"
	"time"
)

func TestApprovalStore_ResolveOnce(t *testing.T) {
	t.Parallel()
	s := NewApprovalStore(nil)
	s.Put(&Approval{ID: "a1", TaskID: "t1", Channel: "telegram", ChatID: "100", Requester: "u1"})

	if _, state := s.Resolve("a1", "u1", true); state != ResolveOK {
		t.Fatalf("expected ResolveOK, got %d", state)
	}
	if _, state := s.Resolve("a1", "u1", true); state != ResolveDuplicate {
		t.Errorf("expected ResolveDuplicate on second attempt, got %d", state)
	}
}

func TestApprovalStore_ConcurrentResolve(t *testing.T) {
	t.Parallel()
	s := NewApprovalStore(nil)
	s.Put(&Approval{ID: "a1", TaskID: "t1", Requester: "u1"})

	const n = 16
	var wg sync.WaitGroup
	results := make(chan ResolveState, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, state := s.Resolve("a1", "u1", true)
			results <- state
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for state := range results {
		switch state {
		case ResolveOK:
			ok++
		case ResolveDuplicate:
			dup++
		default:
			t.Errorf("unexpected state %d", state)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one winner, got %d", ok)
	}
	if dup != n-1 {
		t.Errorf("expected %d duplicates, got %d", n-1, dup)
	}
}

func TestApprovalStore_RequesterEnforcement(t *testing.T) {
	t.Parallel()
	s := NewApprovalStore(nil)
	s.Put(&Approval{ID: "a1", Requester: "u1"})

	if _, state := s.Resolve("a1", "intruder", true); state != ResolveForbidden {
		t.Fatalf("expected ResolveForbidden for non-requester in group, got %d", state)
	}
	// DM context: enforcement off, anyone in the chat may resolve.
	if _, state := s.Resolve("a1", "intruder", false); state != ResolveOK {
		t.Errorf("expected ResolveOK without enforcement, got %d", state)
	}
}

func TestApprovalStore_Expiry(t *testing.T) {
	t.Parallel()
	s := NewApprovalStore(nil)
	a := &Approval{ID: "a1", TaskID: "t1"}
	s.Put(a)

	// Force the deadline into the past instead of waiting out the TTL.
	s.mu.Lock()
	a.ExpiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	if _, ok := s.Get("a1"); ok {
		t.Error("expected Get to miss on an expired approval")
	}
	if _, state := s.Resolve("a1", "u1", false); state != ResolveExpired {
		t.Errorf("expected ResolveExpired, got %d", state)
	}
	if _, state := s.Resolve("a1", "u1", false); state != ResolveNotFound {
		t.Errorf("expected ResolveNotFound after expiry removal, got %d", state)
	}
}

func TestApprovalStore_PendingForChat(t *testing.T) {
	t.Parallel()
	s := NewApprovalStore(nil)
	s.Put(&Approval{ID: "a1", Channel: "telegram", ChatID: "100"})
	s.Put(&Approval{ID: "a2", Channel: "telegram", ChatID: "100"})
	s.Put(&Approval{ID: "a3", Channel: "telegram", ChatID: "999"})
	s.Put(&Approval{ID: "a4", Channel: "discord", ChatID: "100"})

	got := s.PendingForChat("telegram", "100")
	if len(got) != 2 {
		t.Fatalf("expected 2 pending approvals, got %d", len(got))
	}
	if got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Error("expected oldest-first ordering")
	}

	s.Resolve("a1", "", false)
	if got := s.PendingForChat("telegram", "100"); len(got) != 1 {
		t.Errorf("expected resolved approvals to drop out, got %d", len(got))
	}
}
