package router

import (
	"sync"
	"time"
)

// Pacer tracks per vendor:model rate-limit windows. When a provider answers
// 429 with a reset hint, the pacer records the deadline; requests arriving
// before it fail fast instead of burning an SDK call that the provider has
// already said it will reject. The pacer never sleeps and never retries.
type Pacer struct {
	mu   sync.Mutex
	next map[string]time.Time
}

func NewPacer() *Pacer {
	return &Pacer{next: make(map[string]time.Time)}
}

// Observe records a reset hint for the key. Hints of zero or less are
// ignored; a longer existing window is kept.
func (p *Pacer) Observe(key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	deadline := time.Now().Add(retryAfter)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.next[key]; ok && existing.After(deadline) {
		return
	}
	p.next[key] = deadline
}

// Wait returns the remaining pacing window for the key, zero when clear.
// Expired entries are dropped on the way out.
func (p *Pacer) Wait(key string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline, ok := p.next[key]
	if !ok {
		return 0
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		delete(p.next, key)
		return 0
	}
	return remaining
}
