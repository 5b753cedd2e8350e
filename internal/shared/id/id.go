// Package id provides centralized ID generation for the orchestrator.
//
// Request IDs are ULIDs: lexicographically sortable, so they double as
// arrival timestamps in logs and storage listings. Worker slot IDs are
// UUIDs. Type-specific prefixes (req_*, wrk_*) keep identifiers readable
// while debugging.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RequestID identifies one submitted execution request. The same ID names
// the execution and its video artifact throughout their lifetimes.
type RequestID string

// WorkerID identifies a worker slot in the pool.
type WorkerID string

const (
	RequestPrefix = "req"
	WorkerPrefix  = "wrk"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewWorkerID generates a new worker slot ID. Slots are ephemeral and
// unordered, so a random UUID is enough.
func NewWorkerID() WorkerID {
	return WorkerID(fmt.Sprintf("%s_%s", WorkerPrefix, uuid.NewString()))
}

func (id RequestID) String() string { return string(id) }
func (id WorkerID) String() string  { return string(id) }

// IsValid checks if an ID string is a valid ULID.
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// IsValidRequestID reports whether s is a well-formed request ID
// (req_ prefix followed by a ULID). Lets callers reject malformed
// identifiers before touching any store.
func IsValidRequestID(s string) bool {
	raw, ok := strings.CutPrefix(s, RequestPrefix+"_")
	return ok && IsValid(raw)
}

// Timestamp extracts the creation time from a ULID string.
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
