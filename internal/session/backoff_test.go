package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsToCeiling(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, 2)

	var got []time.Duration
	for i := 0; i < 9; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
	}, got)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1])
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, 2)
	b.Next()
	b.Next()
	assert.Equal(t, 4*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0, 0)
	assert.Equal(t, DefaultBackoffFloor, b.Current())
	b.Next()
	assert.Equal(t, DefaultBackoffFloor, b.Current())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "unknown", State(42).String())
}
