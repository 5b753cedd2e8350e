// Package ratelimit implements fixed-window admission accounting.
//
// One bucket per identity plus one global bucket; a submission is
// admitted only when both have remaining capacity, and both decrement
// together. Decisions are immediate: callers map a false return to a
// synchronous rejection, never a queued retry.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

func (b *bucket) roll(now time.Time, window time.Duration) {
	start := now.Truncate(window)
	if b.windowStart.Before(start) {
		b.windowStart = start
		b.count = 0
	}
}

// Limiter is the fixed-window admission gate.
type Limiter struct {
	window      time.Duration
	perIdentity int
	global      int

	mu       sync.Mutex
	buckets  map[string]*bucket
	globalB  bucket
	now      func() time.Time
	lastSeen map[string]time.Time
}

// New creates a limiter with the given window and capacities.
func New(window time.Duration, perIdentity, global int) *Limiter {
	return &Limiter{
		window:      window,
		perIdentity: perIdentity,
		global:      global,
		buckets:     make(map[string]*bucket),
		lastSeen:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// WithClock overrides the time source. Useful for testing.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit reports whether the identity may submit `cost` more requests in
// the current window. Both the identity and global buckets must have
// capacity; both are charged together on admit.
func (l *Limiter) Admit(identity string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[identity]
	if !ok {
		b = &bucket{}
		l.buckets[identity] = b
	}
	b.roll(now, l.window)
	l.globalB.roll(now, l.window)

	if b.count+cost > l.perIdentity || l.globalB.count+cost > l.global {
		return false
	}

	b.count += cost
	l.globalB.count += cost
	l.lastSeen[identity] = now

	if len(l.buckets) > 4096 {
		l.prune(now)
	}
	return true
}

// Remaining returns how many admissions the identity has left in the
// current window, bounded by the global bucket.
func (l *Limiter) Remaining(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.globalB.roll(now, l.window)
	globalLeft := l.global - l.globalB.count

	b, ok := l.buckets[identity]
	if !ok {
		return min(l.perIdentity, globalLeft)
	}
	b.roll(now, l.window)
	return min(l.perIdentity-b.count, globalLeft)
}

// prune drops buckets idle for more than two windows. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-2 * l.window)
	for identity, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.buckets, identity)
			delete(l.lastSeen, identity)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
