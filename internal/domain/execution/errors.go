package execution

import (
	"errors"
	"fmt"
)

// Admission rejection reasons. Resolved synchronously at submit; a
// rejected submission is never enqueued and gets no execution record.
const (
	ReasonQueueFull     = "queue_full"
	ReasonRateLimited   = "rate_limited"
	ReasonUnsafeScript  = "unsafe_script"
	ReasonScriptBlocked = "script_blocked"
	ReasonShuttingDown  = "shutting_down"
)

// Terminal failure reasons recorded on accepted requests.
const (
	ReasonWorkerUnavailable = "worker_unavailable"
	ReasonCancelled         = "cancelled"
)

var (
	// ErrNotFound means no execution record exists for the id.
	ErrNotFound = errors.New("execution not found")
	// ErrNotCancellable means the execution already left the queue.
	ErrNotCancellable = errors.New("execution already started")
)

// AdmissionError is a synchronous rejection at submit time.
type AdmissionError struct {
	Reason string
	Detail string
}

func (e *AdmissionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("submission rejected: %s", e.Reason)
	}
	return fmt.Sprintf("submission rejected: %s (%s)", e.Reason, e.Detail)
}

// AsAdmission extracts an AdmissionError if err is one.
func AsAdmission(err error) (*AdmissionError, bool) {
	var adm *AdmissionError
	if errors.As(err, &adm) {
		return adm, true
	}
	return nil, false
}
