// errors.go declares the router's error taxonomy. Anything that decides
// whether the user gets a reply at all is surfaced through one of these;
// best-effort paths (audit log, reactions, artifact registration) log a
// warning and continue instead.
package gateway

import "errors"

var (
	// ErrAccessDenied is an unauthorized or pairing-required sender.
	ErrAccessDenied = errors.New("access denied")

	// ErrExpiredFlow is a guard, selection, approval or feedback flow whose
	// TTL elapsed; the user is told to restart the flow.
	ErrExpiredFlow = errors.New("flow expired")

	// ErrAmbiguousSelector is a partial match with multiple candidates.
	ErrAmbiguousSelector = errors.New("ambiguous selector")

	// ErrAdapterUnavailable is a disconnected or unknown adapter.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrNoRoute means a task has no live delivery route.
	ErrNoRoute = errors.New("no route for task")
)
