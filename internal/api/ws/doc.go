// Package ws streams execution lifecycle events to WebSocket clients.
// The hub is an event sink: the execution core emits once and never
// waits on a slow reader.
package ws
