package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/api/middleware"
	"github.com/scriptdeck/scriptdeck/internal/domain/execution"
	"github.com/scriptdeck/scriptdeck/internal/domain/validation"
	"github.com/scriptdeck/scriptdeck/internal/domain/video"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/monitoring"
	"github.com/scriptdeck/scriptdeck/internal/shared/id"
)

// Handlers exposes the orchestrator over HTTP.
type Handlers struct {
	manager   *execution.Manager
	validator *validation.Validator
	videos    *video.Manager
	metrics   *monitoring.Metrics
	log       *logging.Logger
}

// NewHandlers creates HTTP handlers.
func NewHandlers(manager *execution.Manager, validator *validation.Validator, videos *video.Manager, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{
		manager:   manager,
		validator: validator,
		videos:    videos,
		metrics:   metrics,
		log:       log,
	}
}

// executeRequest is the submission payload. Timeout is in seconds and
// gets clamped into the configured bounds.
type executeRequest struct {
	Script     string   `json:"script" binding:"required"`
	Timeout    int      `json:"timeout"`
	Priority   int      `json:"priority"`
	Tags       []string `json:"tags"`
	WebhookURL string   `json:"webhook_url"`
}

type validateRequest struct {
	Script string `json:"script" binding:"required"`
}

// Root returns service information.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "scriptdeck",
		"status":  "running",
		"endpoints": gin.H{
			"execute":   "POST /execute",
			"status":    "GET /executions/:id",
			"cancel":    "DELETE /executions/:id",
			"queue":     "GET /queue",
			"validate":  "POST /validate",
			"video":     "GET /videos/:id",
			"health":    "GET /health",
			"metrics":   "GET /metrics",
			"websocket": "WS /stream",
		},
	})
}

// Health returns service health and scheduler load.
func (h *Handlers) Health(c *gin.Context) {
	status := h.manager.QueueStatus()
	resp := gin.H{
		"status":            "healthy",
		"total_queued":      status.TotalQueued,
		"total_running":     status.TotalRunning,
		"available_workers": status.AvailableWorkers,
		"pool_capacity":     status.PoolCapacity,
	}
	if h.metrics != nil {
		resp["uptime_seconds"] = h.metrics.Uptime().Seconds()
	}
	files, bytes := h.videos.StorageStats()
	resp["storage"] = gin.H{"video_files": files, "video_bytes": bytes}
	c.JSON(http.StatusOK, resp)
}

// Execute admits a script for execution.
func (h *Handlers) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.manager.Submit(execution.SubmitInput{
		Script:     req.Script,
		Timeout:    time.Duration(req.Timeout) * time.Second,
		Priority:   req.Priority,
		Tags:       req.Tags,
		WebhookURL: req.WebhookURL,
		Identity:   middleware.Identity(c),
	})
	if err != nil {
		h.rejectSubmission(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":       true,
		"request_id":     record.Request.ID,
		"status":         record.State,
		"queue_position": record.QueuePosition,
		"validation":     record.Validation,
	})
}

// requestID pulls the :id path parameter and rejects malformed
// identifiers before any store lookup.
func requestID(c *gin.Context) (string, bool) {
	rid := c.Param("id")
	if !id.IsValidRequestID(rid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return "", false
	}
	return rid, true
}

// Status returns the current state of an execution.
func (h *Handlers) Status(c *gin.Context) {
	rid, ok := requestID(c)
	if !ok {
		return
	}
	record, err := h.manager.Status(rid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// Cancel removes a still-queued execution.
func (h *Handlers) Cancel(c *gin.Context) {
	rid, ok := requestID(c)
	if !ok {
		return
	}
	err := h.manager.Cancel(rid, middleware.Identity(c))
	switch {
	case errors.Is(err, execution.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
	case errors.Is(err, execution.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "execution already started"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"cancelled": true, "request_id": rid})
	}
}

// Queue returns scheduler load and the next items in service order.
func (h *Handlers) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.QueueStatus())
}

// Validate scores a script without enqueueing it.
func (h *Handlers) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.validator.Validate(req.Script))
}

// Video streams a recording to its owner.
func (h *Handlers) Video(c *gin.Context) {
	rid, ok := requestID(c)
	if !ok {
		return
	}
	record, err := h.videos.Get(rid, middleware.Identity(c))
	switch {
	case errors.Is(err, video.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "video expired"})
		return
	case err != nil:
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	mtype, err := mimetype.DetectFile(record.FilePath)
	if err != nil {
		h.log.Warn("video content detection failed",
			zap.String("execution_id", record.ExecutionID), zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}
	c.Header("Content-Type", mtype.String())
	c.File(record.FilePath)
}

// rejectSubmission maps admission reasons onto HTTP status codes.
func (h *Handlers) rejectSubmission(c *gin.Context, err error) {
	adm, ok := execution.AsAdmission(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusBadRequest
	switch adm.Reason {
	case execution.ReasonRateLimited:
		status = http.StatusTooManyRequests
	case execution.ReasonQueueFull, execution.ReasonShuttingDown:
		status = http.StatusServiceUnavailable
	case execution.ReasonScriptBlocked:
		status = http.StatusForbidden
	}

	resp := gin.H{"accepted": false, "reason": adm.Reason}
	if adm.Detail != "" {
		resp["detail"] = adm.Detail
	}
	c.JSON(status, resp)
}
