// Package guard serializes work per user by rejection: a second message
// arriving while the first is still being answered is turned away, not queued.
package guard

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
)

// DefaultTimeout is how long a lock may be held before the safety timer
// clears it.
const DefaultTimeout = 90 * time.Second

type entry struct {
	gen   uint64
	timer *time.Timer
}

// Guard holds the per-user busy flags.
//
// The safety timer clears a lock unconditionally, even if its pass is still
// running. A slow pass can therefore overlap with a newer one for the same
// user. Leases carry the generation they acquired, so the late release of
// the old pass never clears the newer lock.
type Guard struct {
	timeout time.Duration

	mu      sync.Mutex
	locks   map[string]*entry
	nextGen uint64

	acquired atomic.Int64
	rejected atomic.Int64
	expired  atomic.Int64
}

// Stats are the guard's lifetime counters.
type Stats struct {
	Acquired int64
	Rejected int64
	Expired  int64
	Held     int
}

// New creates a guard. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		timeout: timeout,
		locks:   make(map[string]*entry),
	}
}

// Lease is one successful acquisition.
type Lease struct {
	g    *Guard
	user string
	gen  uint64
	once sync.Once
}

// Release clears the lock this lease acquired. Later calls do nothing, and
// nothing happens if the lock already expired or was taken over.
func (l *Lease) Release() {
	l.once.Do(func() { l.g.release(l.user, l.gen, false) })
}

// TryAcquire takes the user's lock if it is free. Never blocks.
func (g *Guard) TryAcquire(user string) (*Lease, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.locks[user]; busy {
		g.rejected.Add(1)
		MetricInc("guard", "rejected")
		L_debug("guard: user busy", "user", user)
		return nil, false
	}

	g.nextGen++
	gen := g.nextGen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(g.timeout, func() { g.release(user, gen, true) })
	g.locks[user] = e

	g.acquired.Add(1)
	MetricInc("guard", "acquired")
	return &Lease{g: g, user: user, gen: gen}, true
}

// Release clears the user's lock whoever holds it. Idempotent.
func (g *Guard) Release(user string) {
	g.release(user, 0, false)
}

// Reset is Release under the name used when a user explicitly restarts.
func (g *Guard) Reset(user string) {
	g.release(user, 0, false)
}

// Busy reports whether the user's lock is held.
func (g *Guard) Busy(user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.locks[user]
	return ok
}

// Stats returns a snapshot of the counters.
func (g *Guard) Stats() Stats {
	g.mu.Lock()
	held := len(g.locks)
	g.mu.Unlock()
	return Stats{
		Acquired: g.acquired.Load(),
		Rejected: g.rejected.Load(),
		Expired:  g.expired.Load(),
		Held:     held,
	}
}

// release clears the lock if gen matches, or unconditionally when gen is 0.
func (g *Guard) release(user string, gen uint64, expired bool) {
	g.mu.Lock()
	e, ok := g.locks[user]
	if !ok || (gen != 0 && e.gen != gen) {
		g.mu.Unlock()
		return
	}
	delete(g.locks, user)
	e.timer.Stop()
	g.mu.Unlock()

	if expired {
		g.expired.Add(1)
		MetricInc("guard", "expired")
		L_warn("guard: safety timer released lock", "user", user, "timeout", g.timeout)
	}
}
