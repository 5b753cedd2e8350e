// Package worker manages the fixed-size pool of reusable browser-session
// handles.
//
// Each session is a goja VM exposing a page object backed by a goquery
// document. Sessions are leased exclusively through the pool: Acquire is
// the single suspending operation in the system, Release resets session
// state before reuse, and a session that fails reset is retired with its
// slot refilled lazily on the next acquire. Pool capacity is fixed at
// startup and bounds concurrent executions.
package worker
