// Package debounce provides a trailing-edge debouncer for typing
// indicators: the first signal in a burst emits "started" immediately,
// and "stopped" is emitted once after the idle window elapses with no
// further signals.
package debounce

import (
	"sync"
	"time"
)

// Clock abstracts time and timer scheduling so time-dependent state can
// be driven by a manual clock in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a stoppable, resettable scheduled callback.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }

type realTimer struct{ t *time.Timer }

func (t realTimer) Stop() bool                  { return t.t.Stop() }
func (t realTimer) Reset(d time.Duration) bool  { return t.t.Reset(d) }

// Debouncer emits onStart on the first Signal of a burst and onStop after
// idle time passes with no signals. At most one of each fires per burst.
type Debouncer struct {
	mu      sync.Mutex
	idle    time.Duration
	clock   Clock
	timer   Timer
	active  bool
	onStart func()
	onStop  func()
}

// New creates a debouncer using the wall clock.
func New(idle time.Duration, onStart, onStop func()) *Debouncer {
	return NewWithClock(idle, onStart, onStop, realClock{})
}

// NewWithClock creates a debouncer with an explicit clock.
func NewWithClock(idle time.Duration, onStart, onStop func(), clock Clock) *Debouncer {
	return &Debouncer{
		idle:    idle,
		clock:   clock,
		onStart: onStart,
		onStop:  onStop,
	}
}

// Signal records activity. The first call of a burst fires onStart; every
// call pushes the trailing onStop out by the idle window.
func (d *Debouncer) Signal() {
	d.mu.Lock()
	wasActive := d.active
	d.active = true
	if d.timer == nil {
		d.timer = d.clock.AfterFunc(d.idle, d.expire)
	} else {
		d.timer.Reset(d.idle)
	}
	d.mu.Unlock()

	if !wasActive && d.onStart != nil {
		d.onStart()
	}
}

// Flush forces the trailing onStop immediately if a burst is active. Used
// on teardown so a chat never stays marked as typing after unmount.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	if d.onStop != nil {
		d.onStop()
	}
}

// Active reports whether a burst is in progress.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer) expire() {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.mu.Unlock()

	if d.onStop != nil {
		d.onStop()
	}
}
