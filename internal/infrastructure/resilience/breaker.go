package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// State represents a breaker entry state.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures breaker behavior.
type Settings struct {
	// Threshold is the number of consecutive failures that opens an entry.
	Threshold int
	// Cooldown is how long an open entry keeps rejecting before it is
	// given another chance.
	Cooldown time.Duration
}

// Counts holds per-script statistics.
type Counts struct {
	ConsecutiveFailures int
	TotalFailures       int
	TotalSuccesses      int
}

type entry struct {
	counts   Counts
	state    State
	openedAt time.Time
}

// ScriptBreaker tracks repeated failures per script hash and temporarily
// blocks scripts that keep failing, so one broken script cannot
// monopolize workers through resubmission.
type ScriptBreaker struct {
	settings Settings

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates a script breaker with the given settings.
func New(settings Settings) *ScriptBreaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 10 * time.Minute
	}
	return &ScriptBreaker{
		settings: settings,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Useful for testing.
func (b *ScriptBreaker) WithClock(now func() time.Time) *ScriptBreaker {
	b.now = now
	return b
}

// Hash returns the breaker key for a script.
func Hash(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])[:16]
}

// Blocked reports whether the script hash is currently open. An open
// entry whose cooldown has elapsed closes again and admits the script.
func (b *ScriptBreaker) Blocked(hash string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[hash]
	if !ok || e.state == StateClosed {
		return false
	}

	if b.now().Sub(e.openedAt) >= b.settings.Cooldown {
		// Give the script one more chance; the next failure re-opens.
		e.state = StateClosed
		e.counts.ConsecutiveFailures = b.settings.Threshold - 1
		return false
	}
	return true
}

// RecordFailure notes a terminal failure for the script hash and opens
// the entry once consecutive failures reach the threshold.
func (b *ScriptBreaker) RecordFailure(hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[hash]
	if !ok {
		e = &entry{}
		b.entries[hash] = e
	}
	e.counts.ConsecutiveFailures++
	e.counts.TotalFailures++

	if e.state == StateClosed && e.counts.ConsecutiveFailures >= b.settings.Threshold {
		e.state = StateOpen
		e.openedAt = b.now()
	}
}

// RecordSuccess resets the consecutive failure count for the hash.
func (b *ScriptBreaker) RecordSuccess(hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[hash]
	if !ok {
		return
	}
	e.counts.ConsecutiveFailures = 0
	e.counts.TotalSuccesses++
	e.state = StateClosed
}

// CountsFor returns a copy of the statistics for a script hash.
func (b *ScriptBreaker) CountsFor(hash string) Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[hash]; ok {
		return e.counts
	}
	return Counts{}
}
