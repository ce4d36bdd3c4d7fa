// approvals.go implements the pending-approval store. An approval is
// resolved at most once: the first resolution wins and is forwarded to the
// engine, any later attempt reports "already handled" without re-applying
// the effect. Entries carry a best-effort expiry; accuracy to the second is
// not required, only that expired entries are never acted upon.
package gateway

import (
	"log/slog"
	"sync"
	"time"
)

// ApprovalTTL is how long an approval request stays resolvable.
const ApprovalTTL = 6 * time.Minute

// Approval is one pending approval request surfaced to a chat.
type Approval struct {
	ID      string
	TaskID  string
	Channel string
	ChatID  string

	// Requester is the only user allowed to resolve this approval in a
	// group context.
	Requester string

	// MessageID is the prompt message carrying the approve/deny keyboard.
	MessageID string

	CreatedAt time.Time
	ExpiresAt time.Time

	resolved bool
}

// ResolveState classifies the local outcome of a resolution attempt.
type ResolveState int

const (
	// ResolveOK: first resolution, caller should forward to the engine.
	ResolveOK ResolveState = iota

	// ResolveDuplicate: already resolved once.
	ResolveDuplicate

	// ResolveNotFound: unknown approval ID.
	ResolveNotFound

	// ResolveExpired: the TTL elapsed before resolution.
	ResolveExpired

	// ResolveForbidden: the resolver is not the original requester.
	ResolveForbidden
)

// ApprovalStore holds pending approvals. Mutations are serialized by one
// mutex; expiry is checked lazily on access plus one scheduled cleanup per
// entry.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*Approval
	logger  *slog.Logger
}

// NewApprovalStore creates an empty approval store.
func NewApprovalStore(logger *slog.Logger) *ApprovalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalStore{
		pending: make(map[string]*Approval),
		logger:  logger.With("component", "approvals"),
	}
}

// Put registers a pending approval and schedules its cleanup.
func (s *ApprovalStore) Put(a *Approval) {
	now := time.Now()
	a.CreatedAt = now
	a.ExpiresAt = now.Add(ApprovalTTL)

	s.mu.Lock()
	s.pending[a.ID] = a
	s.mu.Unlock()

	// One deferred sweep per entry; no global expiry thread.
	time.AfterFunc(ApprovalTTL+time.Second, func() { s.sweep(a.ID) })

	s.logger.Info("approval pending", "id", a.ID, "task", a.TaskID, "chat", a.ChatID)
}

// Get returns a pending approval if it exists and has not expired.
func (s *ApprovalStore) Get(id string) (*Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[id]
	if !ok || time.Now().After(a.ExpiresAt) {
		return nil, false
	}
	return a, true
}

// Resolve attempts to resolve an approval. enforceRequester is set for
// group contexts, where only the original requester may act.
func (s *ApprovalStore) Resolve(id, resolver string, enforceRequester bool) (*Approval, ResolveState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.pending[id]
	if !ok {
		return nil, ResolveNotFound
	}
	if time.Now().After(a.ExpiresAt) {
		delete(s.pending, id)
		return a, ResolveExpired
	}
	if enforceRequester && resolver != "" && a.Requester != "" && resolver != a.Requester {
		return a, ResolveForbidden
	}
	if a.resolved {
		return a, ResolveDuplicate
	}
	a.resolved = true
	return a, ResolveOK
}

// Remove deletes an approval after the engine acknowledged the resolution.
func (s *ApprovalStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// PendingForChat lists unexpired approvals for one chat, oldest first.
// Powers "/approve" with no argument and the /status display.
func (s *ApprovalStore) PendingForChat(channel, chatID string) []*Approval {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []*Approval
	for _, a := range s.pending {
		if a.Channel == channel && a.ChatID == chatID && !a.resolved && now.Before(a.ExpiresAt) {
			out = append(out, a)
		}
	}
	// Insertion-order by creation time.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *ApprovalStore) sweep(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.pending[id]
	if ok && time.Now().After(a.ExpiresAt) {
		delete(s.pending, id)
		s.logger.Debug("approval expired", "id", id, "task", a.TaskID)
	}
}
