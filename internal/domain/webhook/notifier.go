package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/logging"
	"github.com/scriptdeck/scriptdeck/internal/infrastructure/monitoring"
	"github.com/scriptdeck/scriptdeck/internal/shared/types"
)

// Notifier delivers lifecycle events to caller-supplied webhook URLs.
// Emit never blocks: events land in a bounded buffer and a background
// worker drains it. A full buffer drops the event and logs it.
type Notifier struct {
	client *resty.Client
	events chan types.Event
	log    *logging.Logger

	metrics *monitoring.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewNotifier creates a notifier with a retrying HTTP client.
func NewNotifier(cfg config.WebhookConfig, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "ScriptDeck-Webhook/1.0").
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		client: client,
		events: make(chan types.Event, cfg.BufferSize),
		log:    log,
	}
}

// WithMetrics attaches a metrics collector.
func (n *Notifier) WithMetrics(metrics *monitoring.Metrics) *Notifier {
	n.metrics = metrics
	return n
}

// Start launches the delivery worker.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	n.started = true
	go n.loop(ctx, n.done)
}

// Stop drains buffered events and stops the worker. Deliveries already
// in flight finish; nothing new is accepted afterwards.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	n.started = false
	cancel, done := n.cancel, n.done
	n.mu.Unlock()

	close(n.events)
	<-done
	cancel()
}

// Emit queues an event for delivery. Events without a webhook URL are
// ignored here; the live stream receives them through its own sink.
func (n *Notifier) Emit(event types.Event) {
	if event.WebhookURL == "" {
		return
	}
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return
	}
	select {
	case n.events <- event:
		n.mu.Unlock()
	default:
		n.mu.Unlock()
		n.record("dropped")
		n.log.Warn("webhook buffer full, dropping event",
			zap.String("request_id", event.RequestID),
			zap.String("event_type", string(event.Type)))
	}
}

func (n *Notifier) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for event := range n.events {
		n.deliver(ctx, event)
	}
}

func (n *Notifier) deliver(ctx context.Context, event types.Event) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", event.RequestID).
		SetBody(event).
		Post(event.WebhookURL)

	switch {
	case err != nil:
		n.record("error")
		n.log.Warn("webhook delivery failed",
			zap.String("request_id", event.RequestID),
			zap.String("url", event.WebhookURL),
			zap.Error(err))
	case resp.IsError():
		n.record("rejected")
		n.log.Warn("webhook endpoint rejected event",
			zap.String("request_id", event.RequestID),
			zap.String("url", event.WebhookURL),
			zap.String("status", fmt.Sprintf("%d", resp.StatusCode())))
	default:
		n.record("delivered")
		n.log.Debug("webhook delivered",
			zap.String("request_id", event.RequestID),
			zap.String("event_type", string(event.Type)))
	}
}

func (n *Notifier) record(outcome string) {
	if n.metrics != nil {
		n.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
