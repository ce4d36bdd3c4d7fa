// guards.go implements inline-action guards: single-use, TTL-bounded
// markers that scope an inline keyboard to its original requester. A guard
// is keyed by "channelType:chatID:messageID" and consumed on the first
// matching button press; pressing after expiry yields an "expired, re-run
// the command" reply and performs no state change.
package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// GuardTTL is the default inline-action guard lifetime.
	GuardTTL = 10 * time.Minute

	// FeedbackGuardTTL is the extended lifetime for completion-message
	// feedback controls: users often react to a finished task much later.
	FeedbackGuardTTL = 72 * time.Hour

	// SelectionTTL bounds pending numeric selections.
	SelectionTTL = 2 * time.Minute

	// FeedbackCaptureTTL bounds a pending feedback-text capture.
	FeedbackCaptureTTL = 10 * time.Minute
)

// Guard scopes one inline keyboard message.
type Guard struct {
	// Key is "channelType:chatID:messageID".
	Key string

	// Requester is the only user allowed to press the buttons (enforced
	// in group contexts).
	Requester string

	// TaskID is the task the actions apply to.
	TaskID string

	ExpiresAt time.Time
}

// GuardKey builds the guard map key.
func GuardKey(channel, chatID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, chatID, messageID)
}

// GuardStore holds live guards behind one mutex.
type GuardStore struct {
	mu     sync.Mutex
	guards map[string]*Guard
	logger *slog.Logger
}

// NewGuardStore creates an empty guard store.
func NewGuardStore(logger *slog.Logger) *GuardStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardStore{
		guards: make(map[string]*Guard),
		logger: logger.With("component", "guards"),
	}
}

// Put registers a guard with the given lifetime and schedules its cleanup.
func (s *GuardStore) Put(g *Guard, ttl time.Duration) {
	if ttl <= 0 {
		ttl = GuardTTL
	}
	g.ExpiresAt = time.Now().Add(ttl)

	s.mu.Lock()
	s.guards[g.Key] = g
	s.mu.Unlock()

	time.AfterFunc(ttl+time.Second, func() { s.sweep(g.Key) })
}

// Consume removes and returns the guard for a key. A present-but-expired
// guard is removed and reported as expired; the caller replies accordingly
// and performs no state change.
func (s *GuardStore) Consume(key string) (*Guard, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guards[key]
	if !ok {
		return nil, false, false
	}
	delete(s.guards, key)
	if time.Now().After(g.ExpiresAt) {
		return g, false, true
	}
	return g, true, false
}

// Peek returns a live guard without consuming it. Used to validate the
// requester before committing to the action.
func (s *GuardStore) Peek(key string) (*Guard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[key]
	if !ok || time.Now().After(g.ExpiresAt) {
		return nil, false
	}
	return g, true
}

func (s *GuardStore) sweep(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[key]
	if ok && time.Now().After(g.ExpiresAt) {
		delete(s.guards, key)
		s.logger.Debug("guard expired", "key", key)
	}
}
