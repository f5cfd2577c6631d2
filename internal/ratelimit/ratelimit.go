// Package ratelimit tracks the GitHub API quota shared by all concurrent
// workers. Callers reserve budget before each call and feed the
// server-reported rate headers back in after each response; the server
// values always win over local bookkeeping.
package ratelimit

import (
	"sync"
	"time"
)

// defaultBudget matches GitHub's authenticated core limit. It is only a
// starting guess; the first response's headers replace it.
const defaultBudget = 5000

// Info carries the rate headers of a single API response: the remaining
// call budget and when it resets. A zero Reset means the response
// carried no rate information.
type Info struct {
	Remaining int
	Reset     time.Time
}

// Limiter is the process-wide rate state. All access is serialized, so a
// reserve is a single decrement-and-check step and the remaining budget
// can never go negative under concurrent callers.
type Limiter struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
}

// New returns a Limiter primed with the default authenticated budget.
func New() *Limiter {
	return &Limiter{remaining: defaultBudget}
}

// NewWithBudget returns a Limiter with an explicit starting budget and
// reset time. Used by tests and callers that already know the quota.
func NewWithBudget(remaining int, reset time.Time) *Limiter {
	return &Limiter{remaining: remaining, reset: reset}
}

// Reserve claims cost units of budget. It returns zero if the claim
// succeeded, otherwise the duration until the tracked reset time; the
// caller must wait that long and reserve again. A reservation is never
// granted partially.
func (l *Limiter) Reserve(cost int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.remaining >= cost {
		l.remaining -= cost
		return 0
	}
	wait := time.Until(l.reset)
	if wait <= 0 {
		// The tracked window has already reset. Refill an optimistic
		// local budget and start decrementing again so a burst right
		// after reset stays bounded; the next response's headers resync
		// the real values.
		l.remaining = defaultBudget - cost
		l.reset = time.Now().Add(time.Hour)
		return 0
	}
	return wait
}

// Update records the server-reported remaining budget and reset time
// from a response. A newer reset window replaces the tracked one; within
// the same window the lower remaining value wins, since responses from
// concurrent calls may arrive out of order.
func (l *Limiter) Update(remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case reset.After(l.reset):
		l.remaining = remaining
		l.reset = reset
	case remaining < l.remaining:
		l.remaining = remaining
	}
}

// Exhaust records a server-side rate-limit rejection: the budget is
// zero until reset, regardless of the previously tracked window. The
// server rejecting a call is authoritative over local bookkeeping.
func (l *Limiter) Exhaust(reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = 0
	l.reset = reset
}

// Remaining reports the currently tracked budget.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}
