// Package config loads startup configuration from environment variables.
//
// Configuration follows 12-factor conventions via envconfig struct tags.
// All values are fixed for the process lifetime: pool capacity, queue
// bounds, timeout ceilings, video retention, and rate-limit windows are
// never changed at runtime.
package config
