package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/domain/queue"
	"github.com/scriptdeck/scriptdeck/internal/domain/ratelimit"
	"github.com/scriptdeck/scriptdeck/internal/domain/validation"
	"github.com/scriptdeck/scriptdeck/internal/domain/video"
	"github.com/scriptdeck/scriptdeck/internal/domain/worker"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/monitoring"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/resilience"
	"github.com/scriptdeck/scriptdeck/internal/shared/id"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// previewSize bounds how many queued items get position updates and
// queue status previews after each dispatch.
const previewSize = 5

// SubmitInput is one submission before admission.
type SubmitInput struct {
	Script     string
	Timeout    time.Duration
	Priority   int
	Tags       []string
	WebhookURL string
	Identity   string
}

// Deps wires the manager's collaborators.
type Deps struct {
	Queue     *queue.Queue
	Pool      *worker.Pool
	Limiter   *ratelimit.Limiter
	Validator *validation.Validator
	Breaker   *resilience.ScriptBreaker
	Videos    *video.Manager
	Sink      types.EventSink
	Metrics   *monitoring.Metrics
	Log       *logging.Logger
}

// Manager drives accepted requests through queued, running, and exactly
// one terminal state. It owns the execution records; the queue and pool
// each serialize their own state, so the manager's lock only guards the
// record map and load counters.
type Manager struct {
	cfg  config.ExecutionConfig
	load config.QueueConfig

	queue     *queue.Queue
	pool      *worker.Pool
	limiter   *ratelimit.Limiter
	validator *validation.Validator
	breaker   *resilience.ScriptBreaker
	videos    *video.Manager
	sink      types.EventSink
	metrics   *monitoring.Metrics
	log       *logging.Logger

	mu        sync.Mutex
	records   map[string]*Record
	running   int
	accepting bool

	notify   chan struct{}
	cancel   context.CancelFunc
	stopExec context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewManager creates a manager. Call Start before submitting.
func NewManager(cfg config.ExecutionConfig, load config.QueueConfig, deps Deps) (*Manager, error) {
	if deps.Queue == nil || deps.Pool == nil || deps.Limiter == nil ||
		deps.Validator == nil || deps.Breaker == nil || deps.Videos == nil {
		return nil, errors.New("execution: missing dependency")
	}
	log := deps.Log
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		load:      load,
		queue:     deps.Queue,
		pool:      deps.Pool,
		limiter:   deps.Limiter,
		validator: deps.Validator,
		breaker:   deps.Breaker,
		videos:    deps.Videos,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		log:       log,
		records:   make(map[string]*Record),
		notify:    make(chan struct{}, 1),
		now:       time.Now,
	}, nil
}

// Start launches the dispatcher.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	// Executions get their own context: cancelling the dispatcher must
	// not interrupt scripts already running.
	execCtx, stopExec := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stopExec = stopExec
	m.done = make(chan struct{})
	m.accepting = true
	go m.dispatch(ctx, execCtx, m.done)
}

// Shutdown stops admissions, waits for running executions to finish,
// then closes the pool. Still-queued items never enter running; their
// records stay queued for status queries until the process exits.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return nil
	}
	m.accepting = false
	cancel, stopExec, done := m.cancel, m.stopExec, m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		// Deadline passed; interrupt the stragglers.
		stopExec()
		return fmt.Errorf("shutdown: executions still running: %w", ctx.Err())
	}
	stopExec()
	return m.pool.Close()
}

// Submit admits or rejects a request. Non-blocking: the decision is
// synchronous and a rejected submission leaves no trace beyond metrics.
func (m *Manager) Submit(in SubmitInput) (*Record, error) {
	if !m.acceptingNow() {
		return nil, m.reject(ReasonShuttingDown, "")
	}

	if !m.limiter.Admit(in.Identity, 1) {
		return nil, m.reject(ReasonRateLimited, "")
	}

	result := m.validator.Validate(in.Script)
	if !result.IsSafe {
		return nil, m.reject(ReasonUnsafeScript, strings.Join(result.RiskFlags, "; "))
	}

	hash := resilience.Hash(in.Script)
	if m.breaker.Blocked(hash) {
		return nil, m.reject(ReasonScriptBlocked, "script suspended after repeated failures")
	}

	req := types.Request{
		ID:          id.NewRequestID().String(),
		Script:      in.Script,
		Timeout:     m.clampTimeout(in.Timeout),
		Priority:    clampPriority(in.Priority),
		Tags:        in.Tags,
		WebhookURL:  in.WebhookURL,
		Identity:    in.Identity,
		SubmittedAt: m.now(),
	}

	m.mu.Lock()
	if m.queue.Len()+m.running >= m.load.MaxSize {
		m.mu.Unlock()
		return nil, m.reject(ReasonQueueFull, "")
	}
	record := &Record{
		Request:    req,
		State:      types.StateQueued,
		Validation: result,
		QueuedAt:   req.SubmittedAt,
	}
	m.records[req.ID] = record
	m.queue.Enqueue(req)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.QueueDepth.Set(float64(m.queue.Len()))
	}
	m.log.Info("execution queued",
		zap.String("request_id", req.ID),
		zap.Int("priority", req.Priority),
		zap.Duration("timeout", req.Timeout))

	m.wake()
	return m.snapshotRecord(req.ID), nil
}

// Status returns the current view of an execution.
func (m *Manager) Status(requestID string) (*Record, error) {
	rec := m.snapshotRecord(requestID)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Cancel removes a still-queued request. Running executions cannot be
// cancelled; only their hard timeout terminates them.
func (m *Manager) Cancel(requestID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[requestID]
	if !ok || record.Request.Identity != identity {
		return ErrNotFound
	}
	if record.State != types.StateQueued {
		return ErrNotCancellable
	}
	if !m.queue.Remove(requestID) {
		// Dispatcher popped it between our check and the removal.
		return ErrNotCancellable
	}
	record.State = types.StateRejected
	record.Error = ReasonCancelled
	record.FinishedAt = m.now()

	if m.metrics != nil {
		m.metrics.QueueDepth.Set(float64(m.queue.Len()))
		m.metrics.ExecutionsTotal.WithLabelValues(string(types.StateRejected)).Inc()
	}
	m.log.Info("execution cancelled", zap.String("request_id", requestID))
	return nil
}

// QueueStatus reports scheduler load and the next items in service
// order.
func (m *Manager) QueueStatus() QueueStatus {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	views := m.queue.Snapshot(previewSize)
	preview := make([]QueuePreview, len(views))
	for i, v := range views {
		preview[i] = QueuePreview{
			RequestID: v.RequestID,
			Priority:  v.Priority,
			Position:  v.Position,
			Waiting:   v.Waiting,
		}
	}
	return QueueStatus{
		TotalQueued:      m.queue.Len(),
		TotalRunning:     running,
		AvailableWorkers: m.pool.Available(),
		PoolCapacity:     m.pool.Capacity(),
		AverageWait:      m.queue.AverageWait(),
		NextUp:           preview,
	}
}

// dispatch is the scheduling loop: wait for work, lease a worker, pop
// the highest-priority item, run it. Items are popped only after a
// worker is secured so queued requests stay cancellable until the last
// moment.
func (m *Manager) dispatch(ctx, execCtx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if m.queue.Len() == 0 {
			select {
			case <-m.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		w, err := m.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Worker spawn failed; the next item gets a terminal
			// failure instead of waiting forever.
			if item := m.queue.Next(); item != nil {
				m.failBeforeRun(item.Request, ReasonWorkerUnavailable, err)
			}
			continue
		}

		// Pop and count under one lock so the admission capacity
		// check never sees the item in neither place.
		m.mu.Lock()
		item := m.queue.Next()
		if item != nil {
			m.running++
		}
		m.mu.Unlock()
		if item == nil {
			// Everything ahead was cancelled while we waited.
			m.pool.Release(w)
			continue
		}

		m.wg.Add(1)
		go m.run(execCtx, item, w)
	}
}

// run executes one leased request through its terminal state.
func (m *Manager) run(ctx context.Context, item *queue.Item, w *worker.Worker) {
	defer m.wg.Done()

	req := item.Request
	queueWait := m.now().Sub(item.EnqueuedAt)
	w.Assign(req.ID)

	m.mu.Lock()
	record := m.records[req.ID]
	record.State = types.StateRunning
	record.StartedAt = m.now()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.QueueDepth.Set(float64(m.queue.Len()))
		m.metrics.QueueWait.Observe(queueWait.Seconds())
		m.metrics.ExecutionsRunning.Inc()
	}

	recording, videoErr := m.videos.Start(req.ID, req.Identity)
	if videoErr != nil {
		m.mu.Lock()
		record.VideoUnavailable = true
		m.mu.Unlock()
		m.log.Warn("recording unavailable, executing without video",
			zap.String("request_id", req.ID), zap.Error(videoErr))
	} else {
		w.SetRecorder(recording.WriteFrame)
	}

	m.emit(types.Event{
		Type:       types.EventExecutionStarted,
		RequestID:  req.ID,
		Status:     types.StateRunning,
		Timestamp:  m.now(),
		WebhookURL: req.WebhookURL,
	})

	started := m.now()
	result, execErr := w.Execute(ctx, req.Script, req.Timeout)
	elapsed := m.now().Sub(started)

	videoRef := ""
	if videoErr == nil {
		if _, err := m.videos.Stop(req.ID); err != nil {
			m.mu.Lock()
			record.VideoUnavailable = true
			m.mu.Unlock()
			m.log.Warn("finalize recording failed",
				zap.String("request_id", req.ID), zap.Error(err))
		} else {
			videoRef = "/videos/" + req.ID
		}
	}

	if err := m.pool.Release(w); err != nil {
		m.log.Warn("worker release failed", zap.String("request_id", req.ID), zap.Error(err))
	}

	state := m.classify(execErr)
	hash := resilience.Hash(req.Script)
	if state == types.StateCompleted {
		m.breaker.RecordSuccess(hash)
	} else {
		m.breaker.RecordFailure(hash)
	}

	m.mu.Lock()
	record.State = state
	record.Result = result
	if execErr != nil {
		record.Error = execErr.Error()
	}
	record.FinishedAt = m.now()
	record.ExecutionTime = elapsed
	record.VideoReference = videoRef
	m.running--
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ExecutionsRunning.Dec()
		m.metrics.ExecutionsTotal.WithLabelValues(string(state)).Inc()
		m.metrics.ExecutionDuration.Observe(elapsed.Seconds())
		m.metrics.WorkersAvailable.Set(float64(m.pool.Available()))
	}
	m.log.Info("execution finished",
		zap.String("request_id", req.ID),
		zap.String("status", string(state)),
		zap.Duration("elapsed", elapsed))

	m.emit(types.Event{
		Type:           types.EventExecutionCompleted,
		RequestID:      req.ID,
		Status:         state,
		ExecutionTime:  elapsed.Seconds(),
		VideoReference: videoRef,
		Result:         result,
		Error:          record.Error,
		Timestamp:      m.now(),
		WebhookURL:     req.WebhookURL,
	})
	m.emitPositions()
}

// failBeforeRun terminates an item that never reached a worker.
func (m *Manager) failBeforeRun(req types.Request, reason string, cause error) {
	m.mu.Lock()
	record, ok := m.records[req.ID]
	if ok {
		record.State = types.StateFailed
		record.Error = reason
		record.FinishedAt = m.now()
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ExecutionsTotal.WithLabelValues(string(types.StateFailed)).Inc()
	}
	m.log.Error("execution failed before start",
		zap.String("request_id", req.ID),
		zap.String("reason", reason),
		zap.Error(cause))

	m.emit(types.Event{
		Type:       types.EventExecutionCompleted,
		RequestID:  req.ID,
		Status:     types.StateFailed,
		Error:      reason,
		Timestamp:  m.now(),
		WebhookURL: req.WebhookURL,
	})
}

// emitPositions notifies the head of the queue that it moved up.
func (m *Manager) emitPositions() {
	for _, v := range m.queue.Snapshot(previewSize) {
		m.mu.Lock()
		record, ok := m.records[v.RequestID]
		var url string
		if ok {
			url = record.Request.WebhookURL
			record.QueuePosition = v.Position
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		m.emit(types.Event{
			Type:          types.EventQueuePositionChanged,
			RequestID:     v.RequestID,
			Status:        types.StateQueued,
			QueuePosition: v.Position,
			Timestamp:     m.now(),
			WebhookURL:    url,
		})
	}
}

func (m *Manager) classify(err error) types.State {
	switch {
	case err == nil:
		return types.StateCompleted
	case errors.Is(err, worker.ErrTimeout):
		return types.StateTimedOut
	default:
		return types.StateFailed
	}
}

func (m *Manager) snapshotRecord(requestID string) *Record {
	m.mu.Lock()
	record, ok := m.records[requestID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	snapshot := *record
	m.mu.Unlock()

	if snapshot.State == types.StateQueued {
		snapshot.QueuePosition = m.queue.Position(requestID)
	}
	return &snapshot
}

func (m *Manager) acceptingNow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepting
}

func (m *Manager) reject(reason, detail string) error {
	if m.metrics != nil {
		m.metrics.AdmissionRejects.WithLabelValues(reason).Inc()
	}
	m.log.Info("submission rejected", zap.String("reason", reason))
	return &AdmissionError{Reason: reason, Detail: detail}
}

func (m *Manager) emit(event types.Event) {
	if m.sink != nil {
		m.sink.Emit(event)
	}
}

func (m *Manager) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) clampTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return m.cfg.DefaultTimeout
	case d < m.cfg.MinTimeout:
		return m.cfg.MinTimeout
	case d > m.cfg.TimeoutCeiling:
		return m.cfg.TimeoutCeiling
	}
	return d
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return 3
	case p < 1:
		return 1
	case p > 5:
		return 5
	}
	return p
}
