package types

import "time"

// State is the lifecycle state of an execution request.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
	StateRejected  State = "rejected"
)

// Terminal reports whether the state is final. A request in a terminal
// state never re-enters running.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateRejected:
		return true
	}
	return false
}

// Request is one submitted automation script. Immutable after admission;
// only the execution record tracking it changes state.
type Request struct {
	ID          string        `json:"id"`
	Script      string        `json:"-"`
	Timeout     time.Duration `json:"timeout"`
	Priority    int           `json:"priority"`
	Tags        []string      `json:"tags,omitempty"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	Identity    string        `json:"-"`
	SubmittedAt time.Time     `json:"submitted_at"`
}
