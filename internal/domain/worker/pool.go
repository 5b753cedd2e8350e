package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scriptdeck/scriptdeck/internal/shared/id"
)

var (
	// ErrPoolClosed is returned once the pool has shut down.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Factory creates a fresh session for a pool slot.
type Factory func() (Session, error)

// Worker is one leased handle. Exactly one execution holds a worker at a
// time; the pool enforces the exclusive lease.
type Worker struct {
	SlotID string

	mu        sync.Mutex
	busy      bool
	currentID string
	session   Session
}

// Assign marks the worker as leased to an execution.
func (w *Worker) Assign(executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = true
	w.currentID = executionID
}

// ClearAssignment releases the lease bookkeeping.
func (w *Worker) ClearAssignment() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.busy = false
	w.currentID = ""
}

// Busy reports whether the worker currently holds an execution.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// CurrentExecutionID returns the execution holding this worker, if any.
func (w *Worker) CurrentExecutionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentID
}

// Execute runs the script on the worker's session.
func (w *Worker) Execute(ctx context.Context, script string, timeout time.Duration) (interface{}, error) {
	return w.session.Execute(ctx, script, timeout)
}

// SetRecorder binds a frame sink on the underlying session.
func (w *Worker) SetRecorder(sink FrameSink) {
	w.session.SetRecorder(sink)
}

// Pool manages a fixed-size set of reusable worker handles. Capacity is
// fixed at startup. A worker that crashes or fails reset is retired and
// replaced lazily on the next acquire, so concurrent running never
// exceeds capacity even under flaky workers.
type Pool struct {
	capacity int
	factory  Factory

	// slots holds idle workers; a nil entry is a vacant slot whose
	// worker gets created on the next acquire.
	slots chan *Worker

	mu       sync.RWMutex
	closed   bool
	onRetire func()
}

// NewPool creates a pool and eagerly populates every slot.
func NewPool(capacity int, factory Factory) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", capacity)
	}

	p := &Pool{
		capacity: capacity,
		factory:  factory,
		slots:    make(chan *Worker, capacity),
	}

	for i := 0; i < capacity; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("populate pool: %w", err)
		}
		p.slots <- w
	}
	return p, nil
}

// OnRetire registers a callback invoked whenever a worker is retired.
func (p *Pool) OnRetire(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRetire = fn
}

// Acquire leases a worker, suspending until one frees or ctx fires. It
// is the only blocking operation in the orchestrator.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	p.mu.RUnlock()

	select {
	case w, ok := <-p.slots:
		if !ok {
			return nil, ErrPoolClosed
		}
		if w == nil {
			// Vacant slot left by a retired worker.
			created, err := p.spawn()
			if err != nil {
				p.putBack(nil)
				return nil, fmt.Errorf("replace retired worker: %w", err)
			}
			w = created
		}
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a worker after resetting its session so no state
// leaks between unrelated executions. A failed reset retires the worker
// and frees its slot for lazy replacement.
func (p *Pool) Release(w *Worker) error {
	w.ClearAssignment()
	w.SetRecorder(nil)

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return w.session.Close()
	}

	if err := w.session.Reset(); err != nil {
		w.session.Close()
		p.retire()
		p.putBack(nil)
		return fmt.Errorf("reset failed, worker retired: %w", err)
	}

	p.putBack(w)
	return nil
}

// Available returns the number of idle slots (including vacant ones).
func (p *Pool) Available() int {
	return len(p.slots)
}

// Capacity returns the fixed pool size.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Close shuts the pool down and closes all idle sessions. Workers still
// leased are closed by their Release call.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.slots)
	p.mu.Unlock()

	for w := range p.slots {
		if w != nil {
			w.session.Close()
		}
	}
	return nil
}

func (p *Pool) spawn() (*Worker, error) {
	session, err := p.factory()
	if err != nil {
		return nil, err
	}
	return &Worker{
		SlotID:  id.NewWorkerID().String(),
		session: session,
	}, nil
}

func (p *Pool) putBack(w *Worker) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		if w != nil {
			w.session.Close()
		}
		return
	}
	select {
	case p.slots <- w:
	default:
		// Slot accounting guarantees space; dropping here would shrink
		// capacity, so close the session instead of blocking.
		if w != nil {
			w.session.Close()
		}
	}
}

func (p *Pool) retire() {
	p.mu.RLock()
	fn := p.onRetire
	p.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
