package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/domain/queue"
	"github.com/scriptdeck/scriptdeck/internal/domain/ratelimit"
	"github.com/scriptdeck/scriptdeck/internal/domain/validation"
	"github.com/scriptdeck/scriptdeck/internal/domain/video"
	"github.com/scriptdeck/scriptdeck/internal/domain/worker"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/resilience"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

const (
	scriptOK      = "function main() { return 1; }"
	scriptBlockA  = "function main() { return 'A'; } // @block"
	scriptFail    = "function main() { return 2; } // @fail"
	scriptTimeout = "function main() { return 3; } // @timeout"
	scriptMarkB   = "function main() { return 'B'; }"
	scriptMarkC   = "function main() { return 'C'; }"
)

// stubSession executes by marker instead of running real scripts, so
// scheduling behavior can be tested without a JS runtime in the loop.
type stubSession struct {
	gate   <-chan struct{}
	served *servedLog
	sink   worker.FrameSink
}

func (s *stubSession) Execute(ctx context.Context, script string, timeout time.Duration) (interface{}, error) {
	s.served.add(script)
	if s.sink != nil {
		s.sink([]byte("{}\n"))
	}
	switch {
	case strings.Contains(script, "@block"):
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return "A", nil
	case strings.Contains(script, "@fail"):
		return nil, errors.New("script error: boom")
	case strings.Contains(script, "@timeout"):
		return nil, worker.ErrTimeout
	}
	return map[string]interface{}{"ok": true}, nil
}

func (s *stubSession) SetRecorder(sink worker.FrameSink) { s.sink = sink }
func (s *stubSession) Reset() error                      { return nil }
func (s *stubSession) Close() error                      { return nil }

type servedLog struct {
	mu      sync.Mutex
	scripts []string
}

func (l *servedLog) add(script string) {
	l.mu.Lock()
	l.scripts = append(l.scripts, script)
	l.mu.Unlock()
}

func (l *servedLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.scripts...)
}

type captureSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (c *captureSink) Emit(event types.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *captureSink) ofType(t types.EventType) []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type env struct {
	manager  *Manager
	videos   *video.Manager
	videoDir string
	sink     *captureSink
	served   *servedLog
	gate     chan struct{}
}

type envOptions struct {
	poolCapacity     int
	maxQueue         int
	perIdentity      int
	breakerThreshold int
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	if opts.poolCapacity == 0 {
		opts.poolCapacity = 2
	}
	if opts.maxQueue == 0 {
		opts.maxQueue = 100
	}
	if opts.perIdentity == 0 {
		opts.perIdentity = 1000
	}
	if opts.breakerThreshold == 0 {
		opts.breakerThreshold = 1000
	}

	served := &servedLog{}
	gate := make(chan struct{})
	pool, err := worker.NewPool(opts.poolCapacity, func() (worker.Session, error) {
		return &stubSession{gate: gate, served: served}, nil
	})
	require.NoError(t, err)

	videoDir := t.TempDir()
	videos, err := video.NewManager(video.Config{
		Dir:       videoDir,
		Retention: time.Hour,
		Width:     1280,
		Height:    720,
	}, logging.NewNop())
	require.NoError(t, err)

	sink := &captureSink{}
	manager, err := NewManager(
		config.ExecutionConfig{
			DefaultTimeout: time.Minute,
			MinTimeout:     time.Second,
			TimeoutCeiling: 5 * time.Minute,
		},
		config.QueueConfig{MaxSize: opts.maxQueue},
		Deps{
			Queue:     queue.New(),
			Pool:      pool,
			Limiter:   ratelimit.New(time.Minute, opts.perIdentity, opts.perIdentity*10),
			Validator: validation.MustNew(validation.DefaultPolicy()),
			Breaker:   resilience.New(resilience.Settings{Threshold: opts.breakerThreshold, Cooldown: time.Minute}),
			Videos:    videos,
			Sink:      sink,
			Log:       logging.NewNop(),
		},
	)
	require.NoError(t, err)
	manager.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return &env{manager: manager, videos: videos, videoDir: videoDir, sink: sink, served: served, gate: gate}
}

func (e *env) submit(t *testing.T, in SubmitInput) *Record {
	t.Helper()
	if in.Identity == "" {
		in.Identity = "key-test"
	}
	record, err := e.manager.Submit(in)
	require.NoError(t, err)
	return record
}

func (e *env) waitTerminal(t *testing.T, requestID string) *Record {
	t.Helper()
	var record *Record
	require.Eventually(t, func() bool {
		var err error
		record, err = e.manager.Status(requestID)
		return err == nil && record.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func (e *env) waitState(t *testing.T, requestID string, state types.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, err := e.manager.Status(requestID)
		return err == nil && record.State == state
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitRunsToCompletion(t *testing.T) {
	e := newEnv(t, envOptions{})

	sub := e.submit(t, SubmitInput{Script: scriptOK})
	assert.Equal(t, types.StateQueued, sub.State)
	assert.True(t, strings.HasPrefix(sub.Request.ID, "req_"))

	record := e.waitTerminal(t, sub.Request.ID)
	assert.Equal(t, types.StateCompleted, record.State)
	assert.Equal(t, map[string]interface{}{"ok": true}, record.Result)
	assert.Empty(t, record.Error)
	assert.False(t, record.VideoUnavailable)
	assert.Equal(t, "/videos/"+sub.Request.ID, record.VideoReference)

	// The recording finalized with the frames the session wrote.
	vrec, err := e.videos.Get(sub.Request.ID, "key-test")
	require.NoError(t, err)
	assert.Greater(t, vrec.SizeBytes, int64(0))

	started := e.sink.ofType(types.EventExecutionStarted)
	completed := e.sink.ofType(types.EventExecutionCompleted)
	require.Len(t, started, 1)
	require.Len(t, completed, 1)
	assert.Equal(t, types.StateCompleted, completed[0].Status)
	assert.Greater(t, completed[0].ExecutionTime, float64(-1))
}

func TestVideoFinalizeFailureFlagsUnavailable(t *testing.T) {
	e := newEnv(t, envOptions{})

	sub := e.submit(t, SubmitInput{Script: scriptBlockA})
	e.waitState(t, sub.Request.ID, types.StateRunning)

	// Pull the artifact out from under the recording so finalize fails.
	path := filepath.Join(e.videoDir, sub.Request.ID+".webm")
	require.Eventually(t, func() bool {
		return os.Remove(path) == nil
	}, time.Second, 5*time.Millisecond)
	close(e.gate)

	record := e.waitTerminal(t, sub.Request.ID)
	assert.Equal(t, types.StateCompleted, record.State)
	assert.Equal(t, "A", record.Result)
	assert.True(t, record.VideoUnavailable)
	assert.Empty(t, record.VideoReference)

	_, err := e.videos.Get(sub.Request.ID, "key-test")
	assert.ErrorIs(t, err, video.ErrNotFound)
}

func TestScriptErrorEndsFailed(t *testing.T) {
	e := newEnv(t, envOptions{})

	sub := e.submit(t, SubmitInput{Script: scriptFail})
	record := e.waitTerminal(t, sub.Request.ID)

	assert.Equal(t, types.StateFailed, record.State)
	assert.Contains(t, record.Error, "boom")
	assert.Nil(t, record.Result)
}

func TestTimeoutEndsTimedOut(t *testing.T) {
	e := newEnv(t, envOptions{})

	sub := e.submit(t, SubmitInput{Script: scriptTimeout})
	record := e.waitTerminal(t, sub.Request.ID)

	assert.Equal(t, types.StateTimedOut, record.State)
	assert.Contains(t, record.Error, "timeout")
}

func TestUnsafeScriptRejected(t *testing.T) {
	e := newEnv(t, envOptions{})

	_, err := e.manager.Submit(SubmitInput{
		Script:   `const fs = require("fs"); function main() { return 1; }`,
		Identity: "key-test",
	})
	adm, ok := AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUnsafeScript, adm.Reason)

	_, err = e.manager.Submit(SubmitInput{Script: "const x = 1;", Identity: "key-test"})
	adm, ok = AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUnsafeScript, adm.Reason, "missing entry point is unsafe")
}

func TestRateLimitRejection(t *testing.T) {
	e := newEnv(t, envOptions{perIdentity: 1})

	e.submit(t, SubmitInput{Script: scriptOK, Identity: "key-a"})

	_, err := e.manager.Submit(SubmitInput{Script: scriptOK, Identity: "key-a"})
	adm, ok := AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonRateLimited, adm.Reason)

	// Other identities still have budget.
	e.submit(t, SubmitInput{Script: scriptOK, Identity: "key-b"})
}

func TestQueueFullRejection(t *testing.T) {
	e := newEnv(t, envOptions{poolCapacity: 1, maxQueue: 1})

	sub := e.submit(t, SubmitInput{Script: scriptBlockA})
	e.waitState(t, sub.Request.ID, types.StateRunning)

	_, err := e.manager.Submit(SubmitInput{Script: scriptOK, Identity: "key-test"})
	adm, ok := AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonQueueFull, adm.Reason, "running executions count toward load")

	close(e.gate)
	e.waitTerminal(t, sub.Request.ID)
}

func TestPriorityOrderBreaksTiesByArrival(t *testing.T) {
	e := newEnv(t, envOptions{poolCapacity: 1})

	// Occupy the sole worker so later submissions stack up queued.
	blocker := e.submit(t, SubmitInput{Script: scriptBlockA, Priority: 1})
	e.waitState(t, blocker.Request.ID, types.StateRunning)

	b := e.submit(t, SubmitInput{Script: scriptMarkB, Priority: 2})
	c := e.submit(t, SubmitInput{Script: scriptMarkC, Priority: 1})

	close(e.gate)
	e.waitTerminal(t, b.Request.ID)
	e.waitTerminal(t, c.Request.ID)

	served := e.served.list()
	require.Len(t, served, 3)
	assert.Equal(t, scriptBlockA, served[0])
	assert.Equal(t, scriptMarkC, served[1], "equal priority beats later-arriving lower priority")
	assert.Equal(t, scriptMarkB, served[2])
}

func TestBreakerBlocksRepeatedFailures(t *testing.T) {
	e := newEnv(t, envOptions{breakerThreshold: 2})

	for i := 0; i < 2; i++ {
		sub := e.submit(t, SubmitInput{Script: scriptFail})
		e.waitTerminal(t, sub.Request.ID)
	}

	_, err := e.manager.Submit(SubmitInput{Script: scriptFail, Identity: "key-test"})
	adm, ok := AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonScriptBlocked, adm.Reason)

	// Other scripts are unaffected.
	e.submit(t, SubmitInput{Script: scriptOK})
}

func TestCancelQueuedRequest(t *testing.T) {
	e := newEnv(t, envOptions{poolCapacity: 1})

	blocker := e.submit(t, SubmitInput{Script: scriptBlockA})
	e.waitState(t, blocker.Request.ID, types.StateRunning)

	queued := e.submit(t, SubmitInput{Script: scriptOK})
	require.NoError(t, e.manager.Cancel(queued.Request.ID, "key-test"))

	record, err := e.manager.Status(queued.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateRejected, record.State)
	assert.Equal(t, ReasonCancelled, record.Error)

	// Terminal means no second cancel and no later run.
	assert.ErrorIs(t, e.manager.Cancel(queued.Request.ID, "key-test"), ErrNotCancellable)
	assert.ErrorIs(t, e.manager.Cancel(blocker.Request.ID, "key-test"), ErrNotCancellable)
	assert.ErrorIs(t, e.manager.Cancel(queued.Request.ID, "key-other"), ErrNotFound)
	assert.ErrorIs(t, e.manager.Cancel("req_missing", "key-test"), ErrNotFound)

	close(e.gate)
	e.waitTerminal(t, blocker.Request.ID)
	assert.NotContains(t, e.served.list(), scriptOK, "cancelled item never reaches a worker")
}

func TestQueueStatusSnapshot(t *testing.T) {
	e := newEnv(t, envOptions{poolCapacity: 1})

	blocker := e.submit(t, SubmitInput{Script: scriptBlockA})
	e.waitState(t, blocker.Request.ID, types.StateRunning)

	first := e.submit(t, SubmitInput{Script: scriptMarkB, Priority: 1})
	second := e.submit(t, SubmitInput{Script: scriptMarkC, Priority: 3})

	status := e.manager.QueueStatus()
	assert.Equal(t, 1, status.TotalRunning)
	assert.Equal(t, 2, status.TotalQueued)
	assert.Equal(t, 1, status.PoolCapacity)
	assert.Equal(t, 0, status.AvailableWorkers)
	require.Len(t, status.NextUp, 2)
	assert.Equal(t, first.Request.ID, status.NextUp[0].RequestID)
	assert.Equal(t, second.Request.ID, status.NextUp[1].RequestID)

	// Positions on status queries are derived, not cached.
	got, err := e.manager.Status(second.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.QueuePosition)

	close(e.gate)
}

func TestStatusUnknownRequest(t *testing.T) {
	e := newEnv(t, envOptions{})
	_, err := e.manager.Status("req_unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShutdownStopsAdmissions(t *testing.T) {
	e := newEnv(t, envOptions{})

	sub := e.submit(t, SubmitInput{Script: scriptOK})
	e.waitTerminal(t, sub.Request.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.manager.Shutdown(ctx))

	_, err := e.manager.Submit(SubmitInput{Script: scriptOK, Identity: "key-test"})
	adm, ok := AsAdmission(err)
	require.True(t, ok)
	assert.Equal(t, ReasonShuttingDown, adm.Reason)
}

func TestTimeoutAndPriorityClamping(t *testing.T) {
	e := newEnv(t, envOptions{})

	tiny := e.submit(t, SubmitInput{Script: scriptOK, Timeout: time.Millisecond})
	assert.Equal(t, time.Second, tiny.Request.Timeout)

	huge := e.submit(t, SubmitInput{Script: scriptOK, Timeout: time.Hour, Priority: 9})
	assert.Equal(t, 5*time.Minute, huge.Request.Timeout)
	assert.Equal(t, 5, huge.Request.Priority)

	deflt := e.submit(t, SubmitInput{Script: scriptOK})
	assert.Equal(t, time.Minute, deflt.Request.Timeout)
	assert.Equal(t, 3, deflt.Request.Priority)
}
