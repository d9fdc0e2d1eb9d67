// Package resilience wraps external generation calls with a retry and
// backoff policy for transient failures, and a process-wide cool-off
// gate for rate-limit failures. Both the posting and the discovery loop
// share one gate: once the provider signals quota exhaustion, every LLM
// call in the process is refused until the cool-off expires.
package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CoolOffGate is the shared disabled-until timestamp. It is reset
// implicitly by time passing; observing a rate-limit signal re-arms it.
type CoolOffGate struct {
	mu            sync.Mutex
	disabledUntil time.Time
	now           func() time.Time
}

// NewGate creates a cool-off gate. now may be nil for the real clock.
func NewGate(now func() time.Time) *CoolOffGate {
	if now == nil {
		now = time.Now
	}
	return &CoolOffGate{now: now}
}

// Trip disables calls for d from now. Later trips extend the window but
// never shorten it.
func (g *CoolOffGate) Trip(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().Add(d)
	if until.After(g.disabledUntil) {
		g.disabledUntil = until
	}
}

// Active reports whether the gate currently refuses calls.
func (g *CoolOffGate) Active() bool {
	return g.Remaining() > 0
}

// Remaining returns how long calls stay refused; zero when the gate is
// open.
func (g *CoolOffGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	rem := g.disabledUntil.Sub(g.now())
	if rem < 0 {
		return 0
	}
	return rem
}

// CoolingOffError reports a call refused by the gate without any
// network attempt.
type CoolingOffError struct {
	Label     string
	Remaining time.Duration
}

func (e *CoolingOffError) Error() string {
	mins := int(e.Remaining.Minutes()) + 1
	return fmt.Sprintf("%s skipped: provider cooling off for %dm", e.Label, mins)
}
