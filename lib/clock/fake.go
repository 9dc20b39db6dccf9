// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called; pending timers fire when the clock
// moves past their deadline. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
	stopped  bool
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) NewTimer(d time.Duration) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeTimer{
		deadline: f.current.Add(d),
		ch:       make(chan time.Time, 1),
	}
	if d <= 0 {
		w.fired = true
		w.ch <- f.current
	} else {
		f.waiters = append(f.waiters, w)
	}

	return &Timer{
		C: w.ch,
		stopFunc: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if w.fired || w.stopped {
				return false
			}
			w.stopped = true
			return true
		},
	}
}

// Advance moves the clock forward by d, firing every timer whose
// deadline has been reached.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = f.current.Add(d)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(f.current):
			w.fired = true
			w.ch <- f.current
		default:
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// PendingTimers reports how many unfired, unstopped timers are
// registered. Tests use it to wait until the code under test has
// armed its timer before advancing the clock.
func (f *FakeClock) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := 0
	for _, w := range f.waiters {
		if !w.stopped {
			pending++
		}
	}
	return pending
}
