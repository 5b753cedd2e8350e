// Package webhook delivers execution lifecycle events to caller-supplied
// HTTP endpoints. Delivery is asynchronous and best-effort: a bounded
// buffer decouples the execution path from network latency, and failed
// deliveries are retried with backoff before being counted as lost.
package webhook
