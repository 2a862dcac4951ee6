//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Time sources for deterministic simulations.
//

// Package simclock provides the time sources used by the connection
// simulator. The [System] clock uses the wall clock, while the
// [*Manual] clock is advanced explicitly by the test driver, which
// keeps time-dependent behavior reproducible.
package simclock

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by simulated components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep suspends the caller for the given duration. It returns
	// early with ctx.Err() when the context is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// System is a [Clock] implementation using the wall clock.
type System struct{}

// Ensure [System] implements [Clock].
var _ Clock = System{}

// Now implements [Clock].
func (System) Now() time.Time {
	return time.Now()
}

// Sleep implements [Clock].
func (System) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manual is a virtual [Clock] advanced explicitly via [*Manual.Advance].
//
// The zero value is invalid; construct using [NewManual].
type Manual struct {
	// mu protects now and waiters.
	mu sync.Mutex

	// now is the current virtual time.
	now time.Time

	// waiters contains the pending sleepers.
	waiters []*waiter
}

// waiter is a pending [*Manual.Sleep] call.
type waiter struct {
	// deadline is the virtual time at which to wake up.
	deadline time.Time

	// wake is closed to wake up the sleeper.
	wake chan struct{}
}

// Ensure [*Manual] implements [Clock].
var _ Clock = &Manual{}

// NewManual creates a [*Manual] clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements [Clock].
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep implements [Clock]. The caller suspends on a channel until
// [*Manual.Advance] moves the clock past the wake-up time; there is
// no busy polling.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	m.mu.Lock()
	w := &waiter{
		deadline: m.now.Add(d),
		wake:     make(chan struct{}),
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the virtual time forward and wakes every sleeper
// whose wake-up time has arrived.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	var pending []*waiter
	for _, w := range m.waiters {
		if !w.deadline.After(m.now) {
			close(w.wake)
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
}
