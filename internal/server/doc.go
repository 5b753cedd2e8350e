// Package server provides HTTP server setup and initialization.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, rate limiting, auth, recovery, metrics)
//   - Worker pool and execution manager wiring
//   - Video lifecycle and retention sweeper
//   - Outbound event fan-out (webhooks, WebSocket stream)
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Build worker pool, validator, rate limiter, breaker
//  4. Wire the execution manager and event sinks
//  5. Setup HTTP routes and middleware
//  6. Start background tasks and the HTTP server
//  7. Graceful shutdown on signal: stop admissions, drain executions
package server
