// Package ratelimit gates admission with fixed-window counters, one
// bucket per identity plus one global bucket. Decisions are immediate;
// a denied submission is rejected, never queued for retry.
package ratelimit
