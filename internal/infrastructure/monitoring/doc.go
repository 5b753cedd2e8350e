// Package monitoring provides Prometheus metrics for the orchestrator.
//
// Each Metrics instance owns a private registry, so tests and embedded
// servers can create collectors independently. The gin middleware records
// request counts and latency; domain components update execution, queue,
// pool, video, and webhook series directly.
package monitoring
