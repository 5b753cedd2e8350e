package id

import (
	mathrand "math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDFormat(t *testing.T) {
	rid := NewRequestID().String()
	require.True(t, strings.HasPrefix(rid, "req_"))

	raw := strings.TrimPrefix(rid, "req_")
	assert.True(t, IsValid(raw))

	ts, err := Timestamp(raw)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestRequestIDsSortByArrival(t *testing.T) {
	first := NewRequestID().String()
	time.Sleep(2 * time.Millisecond)
	second := NewRequestID().String()
	assert.Less(t, first, second)
}

func TestIsValidRequestID(t *testing.T) {
	assert.True(t, IsValidRequestID(NewRequestID().String()))
	assert.False(t, IsValidRequestID("req_nope"))
	assert.False(t, IsValidRequestID("wrk_01HZXW3V5Q6T8Y9A0B1C2D3E4F"))
	assert.False(t, IsValidRequestID(""))
}

func TestGeneratorWithEntropy(t *testing.T) {
	g := NewGeneratorWithEntropy(mathrand.New(mathrand.NewSource(42)))
	a := g.GenerateWithPrefix(RequestPrefix)
	b := g.GenerateWithPrefix(RequestPrefix)
	assert.NotEqual(t, a, b)
	assert.True(t, IsValidRequestID(a))
	assert.True(t, IsValidRequestID(b))
}

func TestWorkerIDFormat(t *testing.T) {
	wid := NewWorkerID().String()
	assert.True(t, strings.HasPrefix(wid, "wrk_"))
	assert.NotEqual(t, wid, NewWorkerID().String())
}

func TestGeneratorUniqueness(t *testing.T) {
	g := NewGenerator()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		s := g.GenerateString()
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
	}
}
