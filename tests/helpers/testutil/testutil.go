// Package testutil provides testing utilities and helpers for orchestrator tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/scriptdeck/scriptdeck/internal/domain/worker"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// MockSession is a mock implementation of worker.Session for testing.
type MockSession struct {
	mock.Mock
}

// Execute mocks the Execute method.
func (m *MockSession) Execute(ctx context.Context, script string, timeout time.Duration) (interface{}, error) {
	args := m.Called(ctx, script, timeout)
	return args.Get(0), args.Error(1)
}

// SetRecorder mocks the SetRecorder method.
func (m *MockSession) SetRecorder(sink worker.FrameSink) {
	m.Called(sink)
}

// Reset mocks the Reset method.
func (m *MockSession) Reset() error {
	args := m.Called()
	return args.Error(0)
}

// Close mocks the Close method.
func (m *MockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewMockSession creates a mock session with default behaviors: scripts
// complete with a trivial result, reset and close succeed.
func NewMockSession(t *testing.T) *MockSession {
	t.Helper()
	m := new(MockSession)

	m.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]interface{}{"ok": true}, nil).
		Maybe()
	m.On("SetRecorder", mock.Anything).Maybe()
	m.On("Reset").Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()

	return m
}

// MockEventSink records emitted lifecycle events for assertions.
type MockEventSink struct {
	mock.Mock
}

// Emit mocks the Emit method.
func (m *MockEventSink) Emit(event types.Event) {
	m.Called(event)
}

// NewMockEventSink creates an event sink that accepts everything.
func NewMockEventSink(t *testing.T) *MockEventSink {
	t.Helper()
	m := new(MockEventSink)
	m.On("Emit", mock.Anything).Maybe()
	return m
}

// TestConfig returns a configuration suitable for tests: a small pool,
// short timeouts, temp-dir video storage, and open auth.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Pool.Capacity = 2
	cfg.Queue.MaxSize = 10
	cfg.Execution.DefaultTimeout = 10 * time.Second
	cfg.Execution.MinTimeout = time.Second
	cfg.Video.Dir = t.TempDir()
	cfg.Video.Retention = time.Hour
	cfg.HTTPRate.Enabled = false
	return cfg
}

// CreateTestRequest creates an execution request with default values.
func CreateTestRequest(t *testing.T, id string) types.Request {
	t.Helper()
	return types.Request{
		ID:          id,
		Script:      "function main() { return 1; }",
		Timeout:     30 * time.Second,
		Priority:    3,
		Identity:    "test-identity",
		SubmittedAt: time.Now(),
	}
}
