package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// newTestClient starts an httptest server with the given extra routes and a
// client polling it. The /events route blocks briefly and returns an empty
// batch unless the test overrides it.
func newTestClient(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	if _, ok := routes["/events"]; !ok {
		mux.HandleFunc("/events", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(20 * time.Millisecond)
			w.Write([]byte("[]"))
		})
	}
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(context.Background(), srv.URL, nil)
	t.Cleanup(c.Close)
	return c
}

func TestClient_StartTask(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got StartRequest
	)
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/tasks/start": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}
			mu.Lock()
			defer mu.Unlock()
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			w.Write([]byte("{}"))
		},
	})

	req := StartRequest{
		TaskID:      "t1",
		WorkspaceID: "ws",
		Title:       "Deploy",
		Prompt:      "deploy the api",
		Config: AgentConfig{
			GatewayContext:   ContextGroup,
			ToolRestrictions: []string{"memory_write"},
		},
	}
	if err := c.StartTask(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.TaskID != "t1" || got.Prompt != "deploy the api" {
		t.Errorf("unexpected request on the wire: %+v", got)
	}
	if got.Config.GatewayContext != ContextGroup {
		t.Errorf("expected group context carried, got %q", got.Config.GatewayContext)
	}
}

func TestClient_RespondToApproval(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]http.HandlerFunc{
		"/approvals/respond": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				ApprovalID string `json:"approval_id"`
				Approved   bool   `json:"approved"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if body.ApprovalID != "ap-1" || !body.Approved {
				t.Errorf("unexpected approval body: %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"outcome": "handled"})
		},
	})

	outcome, err := c.RespondToApproval(context.Background(), "ap-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != ApprovalHandled {
		t.Errorf("expected handled, got %q", outcome)
	}
}

func TestClient_Transcribe(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]http.HandlerFunc{
		"/transcribe": func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Path     string `json:"path"`
				MimeType string `json:"mime_type"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if body.Path != "/media/voice.ogg" || body.MimeType != "audio/ogg" {
				t.Errorf("unexpected transcribe body: %+v", body)
			}
			json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
		},
	})

	text, err := c.Transcribe(context.Background(), "/media/voice.ogg", "audio/ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Errorf("expected transcript, got %q", text)
	}
}

func TestClient_Non200IsError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]http.HandlerFunc{
		"/tasks/cancel": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	})

	err := c.CancelTask(context.Background(), "t1")
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestClient_EventsDelivered(t *testing.T) {
	t.Parallel()

	// The poll loop starts before the test registers its handler; hold the
	// batch back until it has, so nothing is dropped.
	ready := make(chan struct{})
	var once sync.Once
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/events": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("wait") != "60" {
				t.Errorf("expected wait=60, got %q", r.URL.RawQuery)
			}
			select {
			case <-ready:
			default:
				time.Sleep(20 * time.Millisecond)
				w.Write([]byte("[]"))
				return
			}
			sent := false
			once.Do(func() {
				json.NewEncoder(w).Encode([]Event{
					{Type: EventPartial, TaskID: "t1", Message: "working"},
					{Type: EventCompleted, TaskID: "t1", Message: "done"},
				})
				sent = true
			})
			if !sent {
				time.Sleep(20 * time.Millisecond)
				w.Write([]byte("[]"))
			}
		},
	})

	got := make(chan Event, 4)
	c.SetHandler(func(ev Event) { got <- ev })
	close(ready)

	want := []EventType{EventPartial, EventCompleted}
	for _, typ := range want {
		select {
		case ev := <-got:
			if ev.Type != typ || ev.TaskID != "t1" {
				t.Errorf("expected %s for t1, got %+v", typ, ev)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestClient_QueueStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, map[string]http.HandlerFunc{
		"/queue/status": func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(QueueStatus{Pending: 3, Executing: 1})
		},
	})

	status, err := c.QueueStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Pending != 3 || status.Executing != 1 {
		t.Errorf("unexpected queue status %+v", status)
	}
}
