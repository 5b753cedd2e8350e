package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

var (
	// ErrTimeout marks an execution torn down by the hard deadline.
	ErrTimeout = errors.New("execution timeout exceeded")
	// ErrNoEntryPoint marks a script without a callable main().
	ErrNoEntryPoint = errors.New("script must define a main() function")
)

// PageLoader fetches page HTML for navigation. The production loader
// goes over HTTP; tests use a static loader.
type PageLoader interface {
	Load(ctx context.Context, url string) (string, error)
}

// FrameSink receives serialized page snapshots for recording. Sinks must
// never block; recording failures never affect script execution.
type FrameSink func(frame []byte)

// Session is one reusable browser-session handle. Reset clears all state
// between executions so nothing leaks across unrelated scripts.
type Session interface {
	Execute(ctx context.Context, script string, timeout time.Duration) (interface{}, error)
	SetRecorder(sink FrameSink)
	Reset() error
	Close() error
}

// SessionConfig configures a browser session.
type SessionConfig struct {
	Loader         PageLoader
	ViewportWidth  int
	ViewportHeight int
}

// BrowserSession runs scripts in a goja VM against a page object backed
// by a goquery document. The VM's process boundary plus the stripped
// global surface is the containment layer; static validation happens
// before a script ever reaches a session.
type BrowserSession struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	config SessionConfig

	// Per-execution state, cleared on Reset.
	doc        *goquery.Document
	pageHTML   string
	currentURL string
	execCtx    context.Context
	sink       FrameSink
	timedOut   atomic.Bool
}

// NewBrowserSession creates a session with a fresh VM.
func NewBrowserSession(config SessionConfig) (*BrowserSession, error) {
	if config.ViewportWidth <= 0 {
		config.ViewportWidth = 1280
	}
	if config.ViewportHeight <= 0 {
		config.ViewportHeight = 720
	}

	s := &BrowserSession{
		vm:     goja.New(),
		config: config,
	}
	if err := s.setupGlobals(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRecorder binds a frame sink for the next execution. Pass nil to
// record nothing.
func (s *BrowserSession) SetRecorder(sink FrameSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Execute runs the script body, then calls its main() entry point under
// a hard wall-clock deadline. The deadline interrupts the VM directly;
// cooperative cancellation is not assumed.
func (s *BrowserSession) Execute(ctx context.Context, script string, timeout time.Duration) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.execCtx = ctx
	s.timedOut.Store(false)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-timer.C:
			s.timedOut.Store(true)
			s.vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer s.vm.ClearInterrupt()

	if _, err := s.vm.RunString(script); err != nil {
		return nil, s.classify(err)
	}

	fn, ok := goja.AssertFunction(s.vm.Get("main"))
	if !ok {
		return nil, ErrNoEntryPoint
	}

	val, err := fn(goja.Undefined())
	if err != nil {
		return nil, s.classify(err)
	}
	return export(val), nil
}

// Reset discards the VM and all page state. A session that fails reset
// must be retired by the pool.
func (s *BrowserSession) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vm = goja.New()
	s.doc = nil
	s.pageHTML = ""
	s.currentURL = ""
	s.sink = nil
	s.execCtx = nil
	return s.setupGlobals()
}

// Close releases the session.
func (s *BrowserSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vm = nil
	s.doc = nil
	s.sink = nil
	return nil
}

func (s *BrowserSession) classify(err error) error {
	if s.timedOut.Load() {
		return ErrTimeout
	}
	if interrupted := (*goja.InterruptedError)(nil); errors.As(err, &interrupted) {
		if s.execCtx != nil && s.execCtx.Err() != nil {
			return s.execCtx.Err()
		}
	}
	return err
}

func (s *BrowserSession) setupGlobals() error {
	// No module loading, no host process access.
	s.vm.Set("require", goja.Undefined())
	s.vm.Set("process", goja.Undefined())
	s.vm.Set("module", goja.Undefined())
	s.vm.Set("exports", goja.Undefined())

	console := s.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		console.Set(level, s.makeConsoleFunc(level))
	}
	s.vm.Set("console", console)

	page := s.vm.NewObject()
	page.Set("goto", s.jsGoto)
	page.Set("title", s.jsTitle)
	page.Set("url", s.jsURL)
	page.Set("content", s.jsContent)
	page.Set("text", s.jsText)
	page.Set("html", s.jsHTML)
	page.Set("attr", s.jsAttr)
	page.Set("count", s.jsCount)
	page.Set("click", s.jsClick)
	page.Set("fill", s.jsFill)
	page.Set("wait", s.jsWait)
	page.Set("screenshot", s.jsScreenshot)
	return s.vm.Set("page", page)
}

func (s *BrowserSession) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		s.snapshot("console", map[string]interface{}{
			"level":   level,
			"message": strings.Join(parts, " "),
		})
		return goja.Undefined()
	}
}

func (s *BrowserSession) jsGoto(call goja.FunctionCall) goja.Value {
	url := call.Argument(0).String()
	if s.config.Loader == nil {
		s.throw("navigation is not available in this session")
	}

	html, err := s.config.Loader.Load(s.execCtx, url)
	if err != nil {
		s.throw(fmt.Sprintf("navigation to %s failed: %v", url, err))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.throw(fmt.Sprintf("failed to parse %s: %v", url, err))
	}

	s.doc = doc
	s.pageHTML = html
	s.currentURL = url
	s.snapshot("navigate", map[string]interface{}{"url": url})
	return goja.Undefined()
}

func (s *BrowserSession) jsTitle(call goja.FunctionCall) goja.Value {
	if s.doc == nil {
		return s.vm.ToValue("")
	}
	return s.vm.ToValue(strings.TrimSpace(s.doc.Find("title").First().Text()))
}

func (s *BrowserSession) jsURL(call goja.FunctionCall) goja.Value {
	return s.vm.ToValue(s.currentURL)
}

func (s *BrowserSession) jsContent(call goja.FunctionCall) goja.Value {
	return s.vm.ToValue(s.pageHTML)
}

func (s *BrowserSession) jsText(call goja.FunctionCall) goja.Value {
	sel := s.selection(call, "text")
	return s.vm.ToValue(strings.TrimSpace(sel.First().Text()))
}

func (s *BrowserSession) jsHTML(call goja.FunctionCall) goja.Value {
	sel := s.selection(call, "html")
	html, _ := sel.First().Html()
	return s.vm.ToValue(html)
}

func (s *BrowserSession) jsAttr(call goja.FunctionCall) goja.Value {
	sel := s.selection(call, "attr")
	name := call.Argument(1).String()
	return s.vm.ToValue(sel.First().AttrOr(name, ""))
}

func (s *BrowserSession) jsCount(call goja.FunctionCall) goja.Value {
	sel := s.selection(call, "count")
	return s.vm.ToValue(sel.Length())
}

func (s *BrowserSession) jsClick(call goja.FunctionCall) goja.Value {
	selector := call.Argument(0).String()
	sel := s.selection(call, "click")
	if sel.Length() == 0 {
		s.throw("no element matches selector: " + selector)
	}
	s.snapshot("click", map[string]interface{}{"selector": selector})
	return goja.Undefined()
}

func (s *BrowserSession) jsFill(call goja.FunctionCall) goja.Value {
	selector := call.Argument(0).String()
	value := call.Argument(1).String()
	sel := s.selection(call, "fill")
	if sel.Length() == 0 {
		s.throw("no element matches selector: " + selector)
	}
	sel.SetAttr("value", value)
	s.snapshot("fill", map[string]interface{}{"selector": selector})
	return goja.Undefined()
}

// jsWait sleeps in small slices so the hard deadline still interrupts
// promptly; goja's Interrupt cannot break a Go-side sleep.
func (s *BrowserSession) jsWait(call goja.FunctionCall) goja.Value {
	ms := call.Argument(0).ToInteger()
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)

	for time.Now().Before(deadline) {
		if s.timedOut.Load() {
			s.throw("execution timeout exceeded")
		}
		remaining := time.Until(deadline)
		slice := 10 * time.Millisecond
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-time.After(slice):
		case <-s.execCtx.Done():
			s.throw("context cancelled")
		}
	}
	return goja.Undefined()
}

func (s *BrowserSession) jsScreenshot(call goja.FunctionCall) goja.Value {
	s.snapshot("screenshot", map[string]interface{}{
		"viewport": fmt.Sprintf("%dx%d", s.config.ViewportWidth, s.config.ViewportHeight),
		"html":     s.pageHTML,
	})
	return s.vm.ToValue(s.currentURL)
}

func (s *BrowserSession) selection(call goja.FunctionCall, op string) *goquery.Selection {
	if s.doc == nil {
		s.throw("page." + op + " called before navigation")
	}
	return s.doc.Find(call.Argument(0).String())
}

// throw raises a JS exception inside the VM.
func (s *BrowserSession) throw(msg string) {
	panic(s.vm.ToValue(msg))
}

// snapshot emits one recording frame, if a recorder is bound.
func (s *BrowserSession) snapshot(action string, detail map[string]interface{}) {
	if s.sink == nil {
		return
	}
	frame := map[string]interface{}{
		"ts":     time.Now().UnixMilli(),
		"action": action,
		"url":    s.currentURL,
	}
	for k, v := range detail {
		frame[k] = v
	}
	if data, err := json.Marshal(frame); err == nil {
		s.sink(append(data, '\n'))
	}
}

func export(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
