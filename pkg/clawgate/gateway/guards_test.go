package gateway

import (
	"testing"
	"time"
)

func TestGuardKey(t *testing.T) {
	t.Parallel()
	if got := GuardKey("telegram", "100", "m5"); got != "telegram:100:m5" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestGuardStore_ConsumeOnce(t *testing.T) {
	t.Parallel()
	s := NewGuardStore(nil)
	key := GuardKey("telegram", "100", "m5")
	s.Put(&Guard{Key: key, Requester: "u1", TaskID: "t1"}, time.Minute)

	g, ok, expired := s.Consume(key)
	if !ok || expired {
		t.Fatalf("expected live guard, ok=%v expired=%v", ok, expired)
	}
	if g.TaskID != "t1" {
		t.Errorf("unexpected guard %+v", g)
	}

	if _, ok, _ := s.Consume(key); ok {
		t.Error("expected second consume to miss")
	}
}

func TestGuardStore_Expired(t *testing.T) {
	t.Parallel()
	s := NewGuardStore(nil)
	key := GuardKey("telegram", "100", "m5")
	s.Put(&Guard{Key: key}, time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	g, ok, expired := s.Consume(key)
	if ok {
		t.Error("expected expired guard not to be usable")
	}
	if !expired || g == nil {
		t.Error("expected present-but-expired to be reported as expired")
	}
	// Expired consume still removes the entry.
	if _, ok, expired := s.Consume(key); ok || expired {
		t.Error("expected expired guard to be gone after consume")
	}
}

func TestGuardStore_Peek(t *testing.T) {
	t.Parallel()
	s := NewGuardStore(nil)
	key := GuardKey("discord", "c1", "m1")
	s.Put(&Guard{Key: key, Requester: "u1"}, time.Minute)

	if _, ok := s.Peek(key); !ok {
		t.Fatal("expected peek to find the guard")
	}
	// Peek must not consume.
	if _, ok, _ := s.Consume(key); !ok {
		t.Error("expected guard to survive peek")
	}
}
