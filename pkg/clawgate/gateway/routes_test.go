package gateway

import (
	"testing"
)

func TestRouteTable_PutGetConsume(t *testing.T) {
	t.Parallel()
	rt := NewRouteTable()

	rt.Put(&Route{TaskID: "t1", Channel: "telegram", ChatID: "100", Requester: "u1"})

	r, ok := rt.Get("t1")
	if !ok {
		t.Fatal("expected route for t1")
	}
	if r.Channel != "telegram" || r.ChatID != "100" {
		t.Errorf("unexpected route: %+v", r)
	}
	if r.RegisteredAt.IsZero() {
		t.Error("expected RegisteredAt to be set by Put")
	}

	r, ok = rt.Consume("t1")
	if !ok || r.TaskID != "t1" {
		t.Fatal("expected first consume to return the route")
	}
	if _, ok := rt.Consume("t1"); ok {
		t.Error("expected second consume to miss")
	}
	if rt.Len() != 0 {
		t.Errorf("expected empty table, got %d routes", rt.Len())
	}
}

func TestRouteTable_PutReplaces(t *testing.T) {
	t.Parallel()
	rt := NewRouteTable()

	rt.Put(&Route{TaskID: "t1", Channel: "telegram", ChatID: "100", LastMessageID: "m1"})
	rt.Put(&Route{TaskID: "t1", Channel: "telegram", ChatID: "100", LastMessageID: "m2"})

	if rt.Len() != 1 {
		t.Fatalf("expected one live route per task, got %d", rt.Len())
	}
	r, _ := rt.Get("t1")
	if r.LastMessageID != "m2" {
		t.Errorf("expected follow-up to replace the route, got %q", r.LastMessageID)
	}
}

func TestRouteTable_SweepChannel(t *testing.T) {
	t.Parallel()
	rt := NewRouteTable()

	rt.Put(&Route{TaskID: "t1", Channel: "telegram", ChatID: "100"})
	rt.Put(&Route{TaskID: "t2", Channel: "telegram", ChatID: "200"})
	rt.Put(&Route{TaskID: "t3", Channel: "discord", ChatID: "300"})

	if n := rt.SweepChannel("telegram"); n != 2 {
		t.Errorf("expected 2 swept routes, got %d", n)
	}
	if _, ok := rt.Get("t3"); !ok {
		t.Error("expected discord route to survive the sweep")
	}
	if rt.Len() != 1 {
		t.Errorf("expected 1 remaining route, got %d", rt.Len())
	}
}
