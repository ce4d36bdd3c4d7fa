package engine

import "context"

// Unavailable is the Engine used when no engine endpoint is configured.
// Every operation fails with ErrUnavailable; the gateway surfaces that as a
// user-facing message instead of crashing.
type Unavailable struct{}

func (Unavailable) StartTask(context.Context, StartRequest) error        { return ErrUnavailable }
func (Unavailable) SendFollowUp(context.Context, string, string) error   { return ErrUnavailable }
func (Unavailable) CancelTask(context.Context, string) error             { return ErrUnavailable }
func (Unavailable) RegisterArtifact(context.Context, string, string) error { return ErrUnavailable }
func (Unavailable) AppendLog(context.Context, string, string, map[string]any) error {
	return ErrUnavailable
}
func (Unavailable) QueueStatus(context.Context) (QueueStatus, error) {
	return QueueStatus{}, ErrUnavailable
}
func (Unavailable) ClearStuckTasks(context.Context) (int, error) { return 0, ErrUnavailable }
func (Unavailable) RespondToApproval(context.Context, string, bool) (ApprovalOutcome, error) {
	return "", ErrUnavailable
}
func (Unavailable) SetHandler(Handler) {}

var _ Engine = Unavailable{}
