// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance it explicitly.
package clock

import "time"

// Clock is the subset of the time package the sandbox lifecycle needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a timer that delivers on C after d elapses.
	NewTimer(d time.Duration) *Timer
}

// Timer delivers one event on C unless stopped first.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the timer from firing. Reports whether the call
// stopped it before it fired.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	timer := time.NewTimer(d)
	return &Timer{C: timer.C, stopFunc: timer.Stop}
}
