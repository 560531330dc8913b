package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelayGrowsAndJitters(t *testing.T) {
	b := New(Config{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, JitterPercent: 0.2, MaxAttempts: 10})

	d1, tripped1 := b.NextDelay()
	require.False(t, tripped1)
	d2, tripped2 := b.NextDelay()
	require.False(t, tripped2)

	// d2's un-jittered center (20ms) is roughly double d1's (10ms); allow
	// jitter slack on both sides.
	assert.Greater(t, float64(d2), float64(d1)*0.8)
}

func TestMaxAttemptsTripsBreaker(t *testing.T) {
	b := New(Config{BaseDelay: time.Millisecond, MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		_, tripped := b.NextDelay()
		assert.False(t, tripped)
	}
	_, tripped := b.NextDelay()
	assert.True(t, tripped)
}

func TestResetClearsTrip(t *testing.T) {
	b := New(Config{BaseDelay: time.Millisecond, MaxAttempts: 1})
	b.NextDelay()
	_, tripped := b.NextDelay()
	require.True(t, tripped)

	b.Reset()
	_, tripped = b.NextDelay()
	assert.False(t, tripped)
}

func TestDelayCappedAtMax(t *testing.T) {
	b := New(Config{BaseDelay: time.Second, MaxDelay: 2 * time.Second, JitterPercent: 0.01, MaxAttempts: 20})
	var last time.Duration
	for i := 0; i < 10; i++ {
		d, tripped := b.NextDelay()
		require.False(t, tripped)
		last = d
	}
	assert.LessOrEqual(t, last, 2*time.Second+2*time.Second/100)
}
