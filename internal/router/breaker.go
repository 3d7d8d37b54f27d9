package router

import (
	"math/rand/v2"
	"sync"
	"time"
)

// breakerState represents the operational state of one vendor:model breaker.
//
//	breakerClosed   — normal operation; requests pass through.
//	breakerOpen     — the upstream is failing; requests are rejected immediately.
//	breakerHalfOpen — recovery probe; exactly one request is admitted.
type breakerState int

const (
	breakerClosed   breakerState = 0
	breakerOpen     breakerState = 1
	breakerHalfOpen breakerState = 2
)

// BreakerConfig holds circuit breaker tuning parameters. Zero values fall
// back to the package defaults.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// trips the breaker. Default 5. Non-transient failures and timeouts do
	// not count; the caller decides what to record.
	FailureThreshold int

	// Cooldown is the minimum open period before a half-open probe.
	// Default 60s.
	Cooldown time.Duration

	// CooldownJitter widens the open period to [Cooldown, Cooldown+Jitter],
	// randomized per opening so a fleet does not re-probe in lockstep.
	// Default 60s.
	CooldownJitter time.Duration

	// OnStateChange, when set, is called outside any breaker lock after a
	// transition, with the vendor:model key and state labels.
	OnStateChange func(key, from, to string)
}

func (c *BreakerConfig) failureThreshold() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return 5
}

func (c *BreakerConfig) cooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return 60 * time.Second
}

// modelBreaker holds per vendor:model breaker state.
type modelBreaker struct {
	mu sync.Mutex

	state         breakerState
	consecutive   int       // consecutive transient failures while closed
	openedAt      time.Time // when the breaker last tripped
	reopenAt      time.Time // when a half-open probe becomes admissible
	openedCount   int64     // monotonic count of closed→open transitions
	probeInflight bool      // true while a half-open probe is in flight
}

// Breaker manages independent circuit breakers for each vendor:model pair.
// Keys are created lazily on first use. Safe for concurrent use.
type Breaker struct {
	mu       sync.RWMutex
	breakers map[string]*modelBreaker
	cfg      BreakerConfig
}

// NewBreaker creates a Breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		breakers: make(map[string]*modelBreaker),
		cfg:      cfg,
	}
}

// Allow reports whether the vendor:model should receive the next request.
//
//   - Closed  → always true.
//   - Open    → false until reopenAt, then half-open with one probe admitted.
//   - HalfOpen → true only if no probe is currently in flight.
func (b *Breaker) Allow(key string) bool {
	mb := b.get(key)

	mb.mu.Lock()

	switch mb.state {
	case breakerClosed:
		mb.mu.Unlock()
		return true

	case breakerOpen:
		if time.Now().Before(mb.reopenAt) {
			mb.mu.Unlock()
			return false
		}
		mb.state = breakerHalfOpen
		mb.probeInflight = true
		mb.mu.Unlock()
		b.notify(key, "open", "half_open")
		return true

	case breakerHalfOpen:
		if mb.probeInflight {
			mb.mu.Unlock()
			return false
		}
		mb.probeInflight = true
		mb.mu.Unlock()
		return true
	}

	mb.mu.Unlock()
	return true
}

// RecordSuccess resets the breaker to closed regardless of previous state.
func (b *Breaker) RecordSuccess(key string) {
	mb := b.get(key)

	mb.mu.Lock()
	from := mb.state
	mb.state = breakerClosed
	mb.consecutive = 0
	mb.probeInflight = false
	mb.mu.Unlock()

	if from != breakerClosed {
		b.notify(key, stateLabel(from), "closed")
	}
}

// RecordFailure counts one transient failure. The streak is consecutive:
// any success resets it. Reaching the threshold, or failing the half-open
// probe, opens the breaker with a fresh randomized cooldown.
func (b *Breaker) RecordFailure(key string) {
	mb := b.get(key)

	mb.mu.Lock()
	from := mb.state

	if mb.state == breakerHalfOpen {
		b.open(mb)
		mb.mu.Unlock()
		b.notify(key, "half_open", "open")
		return
	}

	mb.consecutive++
	if mb.state == breakerClosed && mb.consecutive >= b.cfg.failureThreshold() {
		b.open(mb)
		mb.mu.Unlock()
		b.notify(key, stateLabel(from), "open")
		return
	}
	mb.mu.Unlock()
}

// open transitions to open under mb.mu, picking a cooldown in
// [Cooldown, Cooldown+Jitter].
func (b *Breaker) open(mb *modelBreaker) {
	cooldown := b.cfg.cooldown()
	if j := b.cfg.CooldownJitter; j > 0 {
		cooldown += rand.N(j)
	}
	now := time.Now()
	mb.state = breakerOpen
	mb.openedAt = now
	mb.reopenAt = now.Add(cooldown)
	mb.consecutive = 0
	mb.probeInflight = false
	mb.openedCount++
}

// ReleaseProbe returns an admitted half-open probe slot without recording an
// outcome, for callers that gate dispatch on more than the breaker. Recording
// success here would close the breaker on evidence that never existed.
func (b *Breaker) ReleaseProbe(key string) {
	mb := b.get(key)
	mb.mu.Lock()
	if mb.state == breakerHalfOpen {
		mb.probeInflight = false
	}
	mb.mu.Unlock()
}

// State returns the current state for the key, plus the monotonic count of
// times it has opened (for metrics export).
func (b *Breaker) State(key string) (string, int64) {
	mb := b.get(key)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return stateLabel(mb.state), mb.openedCount
}

// Remaining reports how long until an open breaker admits a probe, zero for
// any other state.
func (b *Breaker) Remaining(key string) time.Duration {
	mb := b.get(key)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.state != breakerOpen {
		return 0
	}
	if d := time.Until(mb.reopenAt); d > 0 {
		return d
	}
	return 0
}

// Keys returns the tracked vendor:model keys.
func (b *Breaker) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.breakers))
	for k := range b.breakers {
		keys = append(keys, k)
	}
	return keys
}

func stateLabel(s breakerState) string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (b *Breaker) notify(key, from, to string) {
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(key, from, to)
	}
}

func (b *Breaker) get(key string) *modelBreaker {
	b.mu.RLock()
	mb := b.breakers[key]
	b.mu.RUnlock()
	if mb != nil {
		return mb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if mb = b.breakers[key]; mb == nil {
		mb = &modelBreaker{state: breakerClosed}
		b.breakers[key] = mb
	}
	return mb
}
