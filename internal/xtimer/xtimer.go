// Package xtimer provides a restartable one-shot timer, adapted from the
// teacher's timer package to additionally support rearming with a
// remembered interval and an explicit Stop-before-Reset pattern safe to
// call from the single
// scheduler goroutine (§5: no suspension points inside a callback).
package xtimer

import "time"

// Timer wraps time.Timer with a remembered interval so it can be rearmed
// without the caller re-specifying the duration, mirroring the teacher's
// timer.Timer.
type Timer struct {
	timer    *time.Timer
	interval time.Duration
	running  bool
}

// New creates a timer that calls f after d elapses.
func New(d time.Duration, f func()) *Timer {
	t := &Timer{interval: d, running: true}
	t.timer = time.AfterFunc(d, t.preflight(f))
	return t
}

func (t *Timer) preflight(f func()) func() {
	return func() {
		t.running = false
		f()
	}
}

// Reset restarts the timer at its configured interval.
func (t *Timer) Reset() {
	t.stopDrain()
	t.running = true
	t.timer.Reset(t.interval)
}

// RearmAt restarts the timer at a new interval, remembering it for future
// Reset calls. Used by the neighbor FSM when a Hello negotiates a
// different hold time (§4.C).
func (t *Timer) RearmAt(d time.Duration) {
	t.interval = d
	t.Reset()
}

// Stop cancels the timer.
func (t *Timer) Stop() {
	t.stopDrain()
	t.running = false
}

func (t *Timer) stopDrain() {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}

// Running returns true if the timer is currently counting down.
func (t *Timer) Running() bool {
	return t.running
}
