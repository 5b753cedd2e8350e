package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const examplePage = `<html><head><title>Example Domain</title></head>
<body>
<h1 id="heading">Hello</h1>
<a class="link" href="/next">Next</a>
<input id="name" type="text"/>
</body></html>`

func newTestSession(t *testing.T) *BrowserSession {
	t.Helper()
	s, err := NewBrowserSession(SessionConfig{
		Loader: &StaticLoader{Pages: map[string]string{
			"https://example.com": examplePage,
		}},
	})
	require.NoError(t, err)
	return s
}

func TestExecuteReturnsMainResult(t *testing.T) {
	s := newTestSession(t)

	result, err := s.Execute(context.Background(), `
		function main() {
			page.goto("https://example.com");
			return { title: page.title(), heading: page.text("#heading") };
		}
	`, 5*time.Second)
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok, "expected object result, got %T", result)
	assert.Equal(t, "Example Domain", m["title"])
	assert.Equal(t, "Hello", m["heading"])
}

func TestExecuteMissingMain(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Execute(context.Background(), `const x = 1;`, time.Second)
	assert.ErrorIs(t, err, ErrNoEntryPoint)
}

func TestExecuteScriptErrorSurfaces(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Execute(context.Background(), `
		function main() {
			page.goto("https://example.com");
			page.click("#does-not-exist");
		}
	`, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")

	// Touching the page before navigation is also a script error.
	require.NoError(t, s.Reset())
	_, err = s.Execute(context.Background(), `
		function main() { page.text("#heading"); }
	`, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before navigation")
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestExecuteHardTimeout(t *testing.T) {
	s := newTestSession(t)

	start := time.Now()
	_, err := s.Execute(context.Background(), `
		function main() { while (true) {} }
	`, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second, "interrupt must fire promptly")
}

func TestExecuteWaitRespectsTimeout(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Execute(context.Background(), `
		function main() { page.wait(60000); }
	`, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestResetClearsState(t *testing.T) {
	s := newTestSession(t)

	_, err := s.Execute(context.Background(), `
		function main() { page.goto("https://example.com"); leaked = 42; return 1; }
	`, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Reset())

	result, err := s.Execute(context.Background(), `
		function main() { return typeof leaked === "undefined" && page.url() === ""; }
	`, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRecorderReceivesFrames(t *testing.T) {
	s := newTestSession(t)

	var frames [][]byte
	s.SetRecorder(func(frame []byte) { frames = append(frames, frame) })

	_, err := s.Execute(context.Background(), `
		function main() {
			page.goto("https://example.com");
			page.click(".link");
			page.fill("#name", "deck");
			page.screenshot();
			return page.count("a");
		}
	`, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[0], &first))
	assert.Equal(t, "navigate", first["action"])
	assert.Equal(t, "https://example.com", first["url"])
}

func TestForbiddenGlobalsRemoved(t *testing.T) {
	s := newTestSession(t)

	result, err := s.Execute(context.Background(), `
		function main() {
			return typeof require === "undefined" && typeof process === "undefined";
		}
	`, time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}
