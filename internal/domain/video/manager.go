package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/monitoring"
)

var (
	// ErrNotFound covers unknown executions and, deliberately, videos
	// the caller is not authorized to see.
	ErrNotFound = errors.New("video not found")
	// ErrExpired marks an artifact removed by retention.
	ErrExpired = errors.New("video expired")
	// ErrAlreadyRecording guards double Start for one execution.
	ErrAlreadyRecording = errors.New("recording already active for execution")
)

// Record is the metadata of one finalized video artifact. A record
// exists iff its execution reached running at least once and recording
// could start.
type Record struct {
	ExecutionID string    `json:"execution_id"`
	Identity    string    `json:"-"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	Expired     bool      `json:"expired"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Recording is an in-flight capture bound to a leased session.
type Recording struct {
	executionID string
	identity    string
	path        string
	startedAt   time.Time

	mu   sync.Mutex
	file *os.File
}

// WriteFrame appends one captured frame. Write errors are swallowed:
// video failures must never block script execution.
func (r *Recording) WriteFrame(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	r.file.Write(frame)
}

// Manager owns the video artifact lifecycle: start/stop bound to
// executions, retention metadata, and expiry sweeps. All shared state is
// serialized through one mutex, so a sweep can never race a concurrent
// Stop for the same execution.
type Manager struct {
	dir       string
	retention time.Duration
	width     int
	height    int

	mu     sync.Mutex
	active map[string]*Recording
	records map[string]*Record

	log     *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// Config configures the manager.
type Config struct {
	Dir       string
	Retention time.Duration
	Width     int
	Height    int
}

// NewManager creates a manager and ensures the artifact directory exists.
func NewManager(cfg Config, log *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create video dir: %w", err)
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Manager{
		dir:       cfg.Dir,
		retention: cfg.Retention,
		width:     cfg.Width,
		height:    cfg.Height,
		active:    make(map[string]*Recording),
		records:   make(map[string]*Record),
		log:       log,
		now:       time.Now,
	}, nil
}

// WithMetrics attaches a metrics collector.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithClock overrides the time source. Useful for testing retention.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Start opens a recording for the execution. Errors (disk full,
// permissions) are reported so the caller can flag video_unavailable,
// but must not abort the execution.
func (m *Manager) Start(executionID, identity string) (*Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[executionID]; ok {
		return nil, ErrAlreadyRecording
	}

	path := filepath.Join(m.dir, executionID+".webm")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open recording file: %w", err)
	}

	rec := &Recording{
		executionID: executionID,
		identity:    identity,
		path:        path,
		startedAt:   m.now(),
		file:        file,
	}
	m.active[executionID] = rec

	m.log.Debug("recording started",
		zap.String("execution_id", executionID),
		zap.String("path", path),
	)
	return rec, nil
}

// Stop finalizes the recording and creates the retention record.
func (m *Manager) Stop(executionID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.active[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.active, executionID)

	rec.mu.Lock()
	rec.file.Close()
	rec.file = nil
	rec.mu.Unlock()

	info, err := os.Stat(rec.path)
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}

	record := &Record{
		ExecutionID: executionID,
		Identity:    rec.identity,
		FilePath:    rec.path,
		CreatedAt:   rec.startedAt,
		SizeBytes:   info.Size(),
		ExpiresAt:   rec.startedAt.Add(m.retention),
	}
	m.records[executionID] = record
	m.updateStorageMetrics()

	m.log.Info("recording finalized",
		zap.String("execution_id", executionID),
		zap.Int64("size_bytes", record.SizeBytes),
		zap.Time("expires_at", record.ExpiresAt),
	)
	return record, nil
}

// Get returns the record for retrieval. Unknown executions and records
// owned by another identity both map to ErrNotFound so existence does
// not leak; records past expiry return ErrExpired.
func (m *Manager) Get(executionID, identity string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[executionID]
	if !ok || record.Identity != identity {
		return nil, ErrNotFound
	}
	if record.Expired || m.now().After(record.ExpiresAt) {
		return nil, ErrExpired
	}
	copy := *record
	return &copy, nil
}

// Resolution returns the fixed recording resolution.
func (m *Manager) Resolution() string {
	return fmt.Sprintf("%dx%d", m.width, m.height)
}

// StorageStats reports retained artifact count and total bytes.
func (m *Manager) StorageStats() (files int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, record := range m.records {
		if !record.Expired {
			files++
			bytes += record.SizeBytes
		}
	}
	return files, bytes
}

// Sweep removes every artifact past its expiry. Files are deleted before
// metadata so a crash mid-sweep leaves at most an orphaned record, never
// a dangling reference served as valid. In-flight recordings are never
// swept; terminal state is confirmed by absence from the active set.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for executionID, record := range m.records {
		if record.Expired || now.Before(record.ExpiresAt) {
			continue
		}
		if _, inFlight := m.active[executionID]; inFlight {
			continue
		}

		if err := os.Remove(record.FilePath); err != nil && !os.IsNotExist(err) {
			m.log.Error("failed to delete expired video",
				zap.String("execution_id", executionID),
				zap.Error(err),
			)
			continue
		}

		// Keep the tombstone so retrieval distinguishes expired from
		// never-existed.
		record.Expired = true
		record.SizeBytes = 0
		removed++

		m.log.Info("expired video removed",
			zap.String("execution_id", executionID),
		)
	}

	if removed > 0 {
		m.updateStorageMetrics()
		if m.metrics != nil {
			m.metrics.VideosSwept.Add(float64(removed))
		}
	}
	return removed
}

// updateStorageMetrics recomputes gauges. Caller holds mu.
func (m *Manager) updateStorageMetrics() {
	if m.metrics == nil {
		return
	}
	files := 0
	var bytes int64
	for _, record := range m.records {
		if !record.Expired {
			files++
			bytes += record.SizeBytes
		}
	}
	m.metrics.VideosStored.Set(float64(files))
	m.metrics.VideoBytes.Set(float64(bytes))
}
