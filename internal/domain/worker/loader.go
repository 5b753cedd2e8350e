package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPLoader fetches pages over HTTP for session navigation.
type HTTPLoader struct {
	client *resty.Client
}

// NewHTTPLoader creates a loader with sane defaults for untrusted
// destinations: bounded timeout, no retries (a failed navigation is the
// script's problem, not the orchestrator's).
func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "scriptdeck/1.0").
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &HTTPLoader{client: client}
}

// Load fetches the URL and returns the response body.
func (l *HTTPLoader) Load(ctx context.Context, url string) (string, error) {
	resp, err := l.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return resp.String(), nil
}

// StaticLoader serves fixed HTML per URL. Used in tests and for warmup.
type StaticLoader struct {
	Pages map[string]string
}

// Load returns the registered HTML for the URL.
func (l *StaticLoader) Load(_ context.Context, url string) (string, error) {
	html, ok := l.Pages[url]
	if !ok {
		return "", fmt.Errorf("no route to %s", url)
	}
	return html, nil
}
