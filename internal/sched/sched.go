// Package sched implements the single-threaded cooperative event loop
// described in §4.G/§5: every mutation of an eigrp.AS's state happens on
// one goroutine, reached by posting closures onto a channel. This plays
// the role the teacher's listener() goroutine plus timer.Timer plays for
// BGP, generalized so timers, the raw-socket reader, and any other
// producer can safely hand work to the loop without their own locking.
package sched

import (
	"context"
)

// Loop serializes work to exactly one goroutine.
type Loop struct {
	incoming chan func()
	stopped  chan struct{}
}

// New creates a Loop. queueDepth bounds how much posted work may be
// buffered before Post blocks; 0 picks a sensible default.
func New(queueDepth int) *Loop {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Loop{
		incoming: make(chan func(), queueDepth),
		stopped:  make(chan struct{}),
	}
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a function already running on the
// loop. Post is a no-op once the loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.incoming <- fn:
	case <-l.stopped:
	}
}

// Run executes posted functions on the calling goroutine until ctx is
// canceled. It returns as soon as ctx is done; functions still queued at
// that point are not run.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case fn := <-l.incoming:
			fn()
		case <-ctx.Done():
			return
		}
	}
}
