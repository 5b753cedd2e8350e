// Package main is the entry point for the ScriptDeck orchestrator.
//
// The server accepts short automation scripts over HTTP, runs each in
// an isolated headless browser session with a hard timeout, records the
// session, and returns structured results.
//
// The server provides:
//   - REST API for script submission, status, and cancellation
//   - Pre-execution safety validation
//   - Priority scheduling onto a bounded worker pool
//   - Session video artifacts with retention
//   - WebSocket streaming of lifecycle events
//   - Webhook delivery for completion callbacks
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
