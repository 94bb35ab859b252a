// Package waiter implements the AdaptiveWaiter described in spec §4.4: a
// cooperative block until an expected cooldown reset, polling at coarser
// intervals far from reset and finer intervals near it.
package waiter

import (
	"time"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/clock"
)

// OracleFunc optionally reports a fresher remaining-duration estimate at
// each tick. A zero return with ok=false means the oracle has nothing to
// add and the waiter should keep its own estimate.
type OracleFunc func() (remaining time.Duration, ok bool)

// Waiter blocks until an estimated cooldown reset, subject to cancellation.
type Waiter struct {
	clock clock.Clock
}

// New builds a Waiter over the given clock.
func New(c clock.Clock) *Waiter {
	if c == nil {
		c = clock.System
	}
	return &Waiter{clock: c}
}

// pollInterval implements the table from spec §4.4.
func pollInterval(remaining time.Duration) time.Duration {
	switch {
	case remaining > 30*time.Minute:
		return 10 * time.Minute
	case remaining > 5*time.Minute:
		return 2 * time.Minute
	case remaining > time.Minute:
		return 30 * time.Second
	default:
		return 10 * time.Second
	}
}

// Wait blocks until resetInstant, or until cancel fires, or until oracle
// reports the agent is available early. It returns promptly and without
// error on cancellation.
func (w *Waiter) Wait(resetInstant time.Time, oracle OracleFunc, cancel <-chan struct{}) {
	for {
		remaining := resetInstant.Sub(w.clock.Now())
		if remaining <= 0 {
			return
		}

		if oracle != nil {
			if fresh, ok := oracle(); ok {
				if fresh <= 0 {
					return
				}
				resetInstant = w.clock.Now().Add(fresh)
				remaining = fresh
			}
		}

		tick := pollInterval(remaining)
		if tick > remaining {
			tick = remaining
		}

		select {
		case <-cancel:
			return
		case <-w.clock.After(tick):
		}
	}
}
