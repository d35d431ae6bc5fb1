// Package governor enforces the per-tenant concurrency ceiling and the hard
// session-duration limit.
//
// The in-memory counter table is a cache of ground truth: it does not
// survive restarts. On process start the runner recomputes it from
// persisted running sessions via Reconcile before accepting new work.
package governor

import (
	"sync"
	"time"
)

// DefaultCeiling is the number of sessions one tenant may run concurrently.
const DefaultCeiling = 2

// DefaultSessionTimeout is the hard wall-clock limit on one session. On
// expiry the browser engine is force-closed regardless of what the session
// is doing.
const DefaultSessionTimeout = 5 * time.Minute

// Governor tracks in-flight sessions per tenant. There is no queue: when a
// tenant is at the ceiling, acquisition fails immediately and the caller
// must fail the session rather than wait.
type Governor struct {
	mu       sync.Mutex
	ceiling  int
	inFlight map[string]int
}

// New creates a Governor with the given ceiling. A non-positive ceiling
// uses the default.
func New(ceiling int) *Governor {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Governor{
		ceiling:  ceiling,
		inFlight: make(map[string]int),
	}
}

// Acquire claims a concurrency slot for the tenant. It returns false when
// the tenant is already at the ceiling. The returned release is idempotent:
// callers defer it so the slot is returned on every exit path, including
// panics and timeout-forced teardown.
func (g *Governor) Acquire(tenantID string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[tenantID] >= g.ceiling {
		return nil, false
	}
	g.inFlight[tenantID]++

	var once sync.Once
	release = func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.inFlight[tenantID] > 0 {
				g.inFlight[tenantID]--
			}
			if g.inFlight[tenantID] == 0 {
				delete(g.inFlight, tenantID)
			}
		})
	}
	return release, true
}

// InFlight returns the current slot count for a tenant.
func (g *Governor) InFlight(tenantID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[tenantID]
}

// Ceiling returns the configured per-tenant ceiling.
func (g *Governor) Ceiling() int {
	return g.ceiling
}

// Reconcile replaces the counter table with counts recomputed from
// persisted ground truth. Called on process start, before any Acquire, so a
// crash between acquire and start can never permanently leak a slot.
func (g *Governor) Reconcile(counts map[string]int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.inFlight = make(map[string]int, len(counts))
	for tenant, n := range counts {
		if n > 0 {
			g.inFlight[tenant] = n
		}
	}
}

// ArmTimeout starts the hard session timer. When d elapses, teardown runs
// exactly once in its own goroutine; it must force-close the browser engine
// so any in-flight action await fails instead of hanging. The returned
// disarm is idempotent and cancels the timer if the session finishes first.
func ArmTimeout(d time.Duration, teardown func()) (disarm func()) {
	if d <= 0 {
		d = DefaultSessionTimeout
	}
	timer := time.AfterFunc(d, teardown)

	var once sync.Once
	return func() {
		once.Do(func() {
			timer.Stop()
		})
	}
}
