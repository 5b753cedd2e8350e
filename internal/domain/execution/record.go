package execution

import (
	"time"

	"github.com/scriptdeck/scriptdeck/internal/domain/validation"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// Record tracks one accepted request from admission to its terminal
// state. Exactly one terminal transition happens per record; a terminal
// record never re-enters running.
type Record struct {
	Request    types.Request     `json:"request"`
	State      types.State       `json:"status"`
	Validation validation.Result `json:"validation"`

	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`

	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`

	// QueuePosition is derived at read time and only meaningful while
	// queued. Items ahead may complete or be cancelled at any moment.
	QueuePosition int `json:"queue_position,omitempty"`

	// VideoUnavailable is set when recording could not start. The
	// execution itself proceeds regardless.
	VideoUnavailable bool   `json:"video_unavailable,omitempty"`
	VideoReference   string `json:"video_reference,omitempty"`
}

// QueueStatus is an aggregate snapshot of scheduler load.
type QueueStatus struct {
	TotalQueued      int           `json:"total_queued"`
	TotalRunning     int           `json:"total_running"`
	AvailableWorkers int           `json:"available_workers"`
	PoolCapacity     int           `json:"pool_capacity"`
	AverageWait      time.Duration `json:"average_wait"`
	NextUp           []QueuePreview `json:"next_up,omitempty"`
}

// QueuePreview is one queued item in service order.
type QueuePreview struct {
	RequestID string        `json:"request_id"`
	Priority  int           `json:"priority"`
	Position  int           `json:"position"`
	Waiting   time.Duration `json:"waiting"`
}
