package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
)

const apiKey = "test-key"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	cfg.Pool.Capacity = 2
	cfg.Video.Dir = t.TempDir()
	cfg.Auth.APIKeys = []string{apiKey}
	cfg.HTTPRate.Enabled = false
	cfg.Execution.MinTimeout = time.Second

	srv, err := New(cfg, logging.NewNop())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["pool_capacity"])
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExecuteRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/execute", map[string]interface{}{
		"script":  "function main() { return { answer: 42 }; }",
		"timeout": 30,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])
	requestID, _ := body["request_id"].(string)
	require.NotEmpty(t, requestID)

	var status map[string]interface{}
	require.Eventually(t, func() bool {
		_, status = do(t, ts, http.MethodGet, "/executions/"+requestID, nil)
		return status["status"] == "completed"
	}, 10*time.Second, 50*time.Millisecond)

	result, ok := status["result"].(map[string]interface{})
	require.True(t, ok, "result payload: %v", status["result"])
	assert.Equal(t, float64(42), result["answer"])
	assert.Equal(t, "/videos/"+requestID, status["video_reference"])

	// The recording is retrievable by its owner.
	vresp, _ := do(t, ts, http.MethodGet, "/videos/"+requestID, nil)
	assert.Equal(t, http.StatusOK, vresp.StatusCode)
}

func TestExecuteRejectsUnsafeScript(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/execute", map[string]interface{}{
		"script": `const fs = require("fs"); function main() { return 1; }`,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "unsafe_script", body["reason"])
}

func TestValidateOnly(t *testing.T) {
	ts := newTestServer(t)

	script := "function main() { return 1; }"
	var first map[string]interface{}
	for i := 0; i < 2; i++ {
		resp, body := do(t, ts, http.MethodPost, "/validate", map[string]interface{}{"script": script})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["is_safe"])
		if first == nil {
			first = body
		} else {
			assert.Equal(t, first, body, "validation is idempotent")
		}
	}

	// Validate-only never enqueues.
	_, queueBody := do(t, ts, http.MethodGet, "/queue", nil)
	assert.Equal(t, float64(0), queueBody["total_queued"])
}

func TestStatusUnknown(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodGet, "/executions/req_nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVideoUnknown(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodGet, "/videos/req_nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelUnknown(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := do(t, ts, http.MethodDelete, fmt.Sprintf("/executions/%s", "req_nope"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
