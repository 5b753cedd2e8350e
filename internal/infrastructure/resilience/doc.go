// Package resilience implements a per-script circuit breaker.
//
// Each submitted script is keyed by a truncated SHA-256 hash. Scripts
// that fail repeatedly are blocked at admission for a cooldown period,
// then admitted again with a single-strike allowance.
package resilience
