// Package execution is the orchestrator core: it admits submissions
// through rate limiting, validation, and capacity checks, schedules
// queued requests onto pooled browser workers in priority order, and
// drives each accepted request to exactly one terminal state while
// coordinating video recording and lifecycle events.
package execution
