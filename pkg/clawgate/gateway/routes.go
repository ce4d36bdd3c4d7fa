// routes.go implements the task-to-chat routing table: the ephemeral map
// from a task ID to where its output must be delivered. At most one live
// route exists per task; routes are re-registered on every task creation or
// follow-up and reconstructed from persisted session state after a restart,
// so losing this map never orphans a task.
package gateway

import (
	"sync"
	"time"
)

// Route records where one task's output goes.
type Route struct {
	TaskID    string
	Channel   string
	ChatID    string
	SessionID string

	// Requester is the platform ID of the user who started or last
	// followed up on the task. In groups only this user may approve.
	Requester string

	// LastMessageID is the inbound message to reply-thread against.
	LastMessageID string

	RegisteredAt time.Time
}

// RouteTable is a mutex-guarded map of live routes. Router logic never
// iterates it directly; access goes through these operations only.
type RouteTable struct {
	mu     sync.Mutex
	routes map[string]*Route
}

// NewRouteTable creates an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]*Route)}
}

// Put registers (or replaces) the route for a task. Replacing is the normal
// case: every follow-up re-registers so the route tracks the latest message.
func (rt *RouteTable) Put(r *Route) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r.RegisteredAt = time.Now()
	rt.routes[r.TaskID] = r
}

// Get returns the live route for a task, if any.
func (rt *RouteTable) Get(taskID string) (*Route, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.routes[taskID]
	return r, ok
}

// Consume removes and returns the route for a task. Terminal engine events
// consume; a second consume for the same task gracefully misses.
func (rt *RouteTable) Consume(taskID string) (*Route, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.routes[taskID]
	if ok {
		delete(rt.routes, taskID)
	}
	return r, ok
}

// Len reports the number of live routes.
func (rt *RouteTable) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.routes)
}

// SweepChannel drops all routes for one channel. Used when a channel is
// deconfigured; reconnects replay instead of sweeping.
func (rt *RouteTable) SweepChannel(channel string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	n := 0
	for id, r := range rt.routes {
		if r.Channel == channel {
			delete(rt.routes, id)
			n++
		}
	}
	return n
}
