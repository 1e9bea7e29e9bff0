// Package timer implements the tick-countdown timer spec.md §4.2 describes:
// the engine never reads a wall clock, every timer advances by exactly one
// on each wakeup.
package timer

// Timer counts down an unsigned tick remainder.
type Timer struct {
	tick    uint64
	armed   bool
	ticksPS int
}

// InitRelSec arms the timer for seconds from now, given the engine's
// ticks-per-second rate.
func (t *Timer) InitRelSec(seconds int, ticksPerSecond int) {
	if ticksPerSecond <= 0 {
		ticksPerSecond = 1
	}
	t.ticksPS = ticksPerSecond
	t.tick = uint64(seconds) * uint64(ticksPerSecond)
	t.armed = true
}

// Disarm stops the timer without firing it. Used when a timer's countdown is
// no longer meaningful at all (e.g. transaction cancellation) — unlike
// Freeze, the remaining count is discarded, not preserved.
func (t *Timer) Disarm() {
	t.armed = false
	t.tick = 0
}

// Freeze pauses the countdown while preserving the remaining tick count, so
// a later Unfreeze resumes the same countdown rather than restarting it.
// This is how Suspend (O3) freezes a transaction's timers without losing
// their progress; Resume calls Unfreeze.
func (t *Timer) Freeze() {
	t.armed = false
}

// Unfreeze re-arms a timer previously paused with Freeze, continuing its
// countdown from the remaining tick count. A no-op on a timer that was never
// armed (tick==0 and never started).
func (t *Timer) Unfreeze() {
	if t.ticksPS > 0 {
		t.armed = true
	}
}

// Armed reports whether the timer is currently counting down.
func (t *Timer) Armed() bool { return t.armed }

// TickOnce decrements the remainder by one, floor zero. A no-op while
// disarmed — this is how suspend (O3) freezes timers: callers simply skip
// calling TickOnce on a suspended transaction's timers.
func (t *Timer) TickOnce() {
	if !t.armed {
		return
	}
	if t.tick > 0 {
		t.tick--
	}
}

// Expired reports whether the countdown has reached zero. Firing is
// edge-triggered by the caller: once the caller observes Expired() and acts
// on it, it should Disarm or re-arm the timer so the same expiry is not
// acted on twice.
func (t *Timer) Expired() bool {
	return t.armed && t.tick == 0
}

// Remaining exposes the tick count left, mostly for tests/telemetry.
func (t *Timer) Remaining() uint64 { return t.tick }
