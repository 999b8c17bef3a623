package providers

import "context"

// RunStatus is the backend's view of one submitted invocation.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
	StatusExpired   RunStatus = "expired"
)

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// JobHandle identifies one in-flight invocation on the backend.
type JobHandle struct {
	ThreadID string
	RunID    string
}

// AssistantBackend is the generative backend contract: submit assembled
// context, poll until terminal, fetch the reply once completed.
type AssistantBackend interface {
	Submit(ctx context.Context, input string) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (RunStatus, error)
	Fetch(ctx context.Context, handle JobHandle) (string, error)
}
