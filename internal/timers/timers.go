// Package timers provides cancellable, re-armable timers. Engine code never calls
// time.AfterFunc directly so that tests can drive time by hand.
package timers

import "time"

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// Real schedules on the runtime timer heap.
type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (Real) Now() time.Time { return time.Now() }

// Posting wraps a scheduler so that fired callbacks are handed to post instead of
// running on the timer goroutine. The engine uses it to funnel timers into its loop.
type Posting struct {
	Scheduler
	Post func(func())
}

func (p Posting) AfterFunc(d time.Duration, f func()) Timer {
	return p.Scheduler.AfterFunc(d, func() { p.Post(f) })
}

// Keyed holds at most one live timer per key. Arming a key stops its previous timer.
// Not safe for concurrent use; callers own it from a single goroutine.
type Keyed struct {
	sched  Scheduler
	timers map[string]*keyedTimer
}

type keyedTimer struct {
	t Timer
}

func NewKeyed(sched Scheduler) *Keyed {
	return &Keyed{sched: sched, timers: make(map[string]*keyedTimer)}
}

// Arm (re)starts the timer for key. A callback from a superseded timer never runs.
func (k *Keyed) Arm(key string, d time.Duration, f func()) {
	if prev, ok := k.timers[key]; ok {
		prev.t.Stop()
	}
	kt := &keyedTimer{}
	kt.t = k.sched.AfterFunc(d, func() {
		if cur, ok := k.timers[key]; !ok || cur != kt {
			return
		}
		delete(k.timers, key)
		f()
	})
	k.timers[key] = kt
}

// Cancel stops the timer for key. It reports whether a timer was armed.
func (k *Keyed) Cancel(key string) bool {
	kt, ok := k.timers[key]
	if !ok {
		return false
	}
	kt.t.Stop()
	delete(k.timers, key)
	return true
}

func (k *Keyed) Armed(key string) bool {
	_, ok := k.timers[key]
	return ok
}

func (k *Keyed) Len() int { return len(k.timers) }

// CancelAll stops every armed timer.
func (k *Keyed) CancelAll() {
	for key, kt := range k.timers {
		kt.t.Stop()
		delete(k.timers, key)
	}
}
