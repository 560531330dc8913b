// Package circuit implements the retry/backoff half of the Action state
// machine (spec §4.5 "Retry / backoff"): exponential backoff with jitter,
// capped at a per-action maximum, escalating to a terminal tripped state
// once the retry cap is crossed. It is adapted from the teacher's
// pkg/circuit_breaker, generalized from a closed/open/half-open gate into
// the plain retry-scheduling clock pkg/action needs: the RDY/SUSPENDED/
// DISABLED states themselves live in pkg/action, not here.
package circuit

import (
	"math/rand"
	"sync"
	"time"
)

// Config configures backoff timing (spec §4.5).
type Config struct {
	// BaseDelay is the first SUSPENDED→retry interval (default 30s, or 2s
	// for the forwarding transport per spec §4.5).
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// JitterPercent randomizes each computed delay by ± this fraction
	// (suggested 20%, spec §4.5).
	JitterPercent float64
	// MaxAttempts is the retry cap; crossing it trips the breaker
	// permanently (maps to the Action going DISABLED).
	MaxAttempts int
}

// Breaker tracks one Action's suspend/resume attempt count and computes
// the next backoff delay. It does not itself gate calls the way a
// classic circuit breaker does — pkg/action owns the state transitions —
// it only answers "how long until the next try" and "have we given up".
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	attempt  int
	tripped  bool
	rng      *rand.Rand
}

// New returns a Breaker with defaults filled in per spec §4.5.
func New(cfg Config) *Breaker {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 20 * time.Minute
	}
	if cfg.JitterPercent <= 0 {
		cfg.JitterPercent = 0.20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 30
	}
	return &Breaker{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NextDelay records one more failed attempt and returns the delay to wait
// before retrying, along with whether the retry cap has now been crossed
// (tripped == true means the caller should move the Action to DISABLED).
func (b *Breaker) NextDelay() (delay time.Duration, tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tripped {
		return 0, true
	}

	b.attempt++
	if b.attempt > b.cfg.MaxAttempts {
		b.tripped = true
		return 0, true
	}

	base := float64(b.cfg.BaseDelay) * pow2(b.attempt-1)
	if base > float64(b.cfg.MaxDelay) {
		base = float64(b.cfg.MaxDelay)
	}

	jitterRange := base * b.cfg.JitterPercent
	jittered := base + (b.rng.Float64()*2-1)*jitterRange
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered), false
}

// Reset clears the attempt counter and trip state, called when
// try_resume succeeds and the Action returns to RDY.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
	b.tripped = false
}

// Attempt reports the current attempt count, for metrics.
func (b *Breaker) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
		if v > 1e18 {
			return v
		}
	}
	return v
}
