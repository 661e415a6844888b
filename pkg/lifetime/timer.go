package lifetime

import (
	"errors"
	"sync"
	"time"

	"github.com/irctrakz/ovpntun/pkg/logging"
)

// Timer errors
var (
	// ErrInvalidDelta is returned when Schedule is called with a refcount
	// delta outside {-1, 0, +1}, or with a combination that has no valid
	// reference source (+1 on a disarmed timer).
	ErrInvalidDelta = errors.New("invalid refcount delta")

	// ErrUnavailable is returned when the timer's owner is already in
	// terminal teardown and the arming reference cannot be acquired.
	ErrUnavailable = errors.New("owner unavailable")
)

// Referent is the owner object a Timer pins while armed.
type Referent interface {
	Hold() bool
	Put()
}

// Timer pairs an expirable timer with its owner's reference count. While
// armed, the timer owns exactly one reference on the owner, so a fire can
// never race the owner's destruction. The armed flag, guarded by the shared
// owner lock, decides ownership of that reference: a stale callback that
// lost the race to Delete or a re-arm returns without firing.
type Timer struct {
	name  string
	owner Referent
	fn    func()

	mu     *sync.Mutex // shared owner lock
	timer  *time.Timer
	period time.Duration
	armed  bool
	dead   bool
}

// NewTimer creates a disarmed timer. mu is the owner's timer lock, shared
// between the owner's timers. fn runs on fire, holding the arming reference;
// it must either release it or hand it back via Schedule(-1).
func NewTimer(name string, owner Referent, mu *sync.Mutex, fn func()) *Timer {
	return &Timer{name: name, owner: owner, fn: fn, mu: mu}
}

// SetPeriod sets the timer period. A period of zero disables the timer: the
// next Schedule disarms it instead.
func (t *Timer) SetPeriod(d time.Duration) {
	t.mu.Lock()
	t.period = d
	t.mu.Unlock()
}

// Schedule arms or re-arms the timer. delta expresses the net reference
// change the caller intends:
//
//	 0: the timer keeps whatever it holds; a newly armed timer acquires a
//	    fresh arming reference itself.
//	+1: the already-armed timer acquires one additional reference.
//	-1: the timer inherits a reference the caller is giving up.
//
// If the arming reference cannot be acquired because the owner is terminal,
// or the timer was cancelled with Delete, the timer is left disarmed and
// ErrUnavailable is returned; an inherited reference (delta -1) is released.
func (t *Timer) Schedule(delta int) error {
	if delta < -1 || delta > 1 {
		logging.Errorf("timer %s: invalid refcount delta %d", t.name, delta)
		return ErrInvalidDelta
	}

	t.mu.Lock()

	if t.dead {
		t.mu.Unlock()
		if delta == -1 {
			t.owner.Put()
		}
		return ErrUnavailable
	}

	if t.period <= 0 {
		// Disabled: disarm and settle references.
		wasArmed := t.disarmLocked()
		t.mu.Unlock()
		if wasArmed {
			t.owner.Put()
		}
		if delta == -1 {
			t.owner.Put()
		}
		return nil
	}

	eff := delta
	if !t.armed {
		eff++ // implicit arming reference
	}

	var put bool
	switch eff {
	case 0:
	case 1:
		if !t.owner.Hold() {
			t.mu.Unlock()
			return ErrUnavailable
		}
	case -1:
		put = true
	default:
		// +1 on a disarmed timer: no valid source for two references.
		t.mu.Unlock()
		logging.Errorf("timer %s: unreachable refcount delta %d", t.name, eff)
		return ErrInvalidDelta
	}

	t.armed = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.period, t.onFire)
	} else {
		t.timer.Reset(t.period)
	}
	t.mu.Unlock()

	if put {
		t.owner.Put()
	}
	return nil
}

// Delete permanently cancels the timer and releases the arming reference if
// it was armed. A fire already past the armed check keeps its reference; its
// Schedule(-1) then settles it instead of re-arming, so a cancelled timer
// stays cancelled.
func (t *Timer) Delete() {
	t.mu.Lock()
	t.dead = true
	wasArmed := t.disarmLocked()
	t.mu.Unlock()

	if wasArmed {
		t.owner.Put()
	}
}

// Event resets the countdown of an armed timer without touching references.
func (t *Timer) Event() {
	t.mu.Lock()
	if t.armed && t.period > 0 {
		t.timer.Reset(t.period)
	}
	t.mu.Unlock()
}

// Armed reports whether the timer currently holds its arming reference.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *Timer) disarmLocked() bool {
	wasArmed := t.armed
	t.armed = false
	if t.timer != nil {
		t.timer.Stop()
	}
	return wasArmed
}

func (t *Timer) onFire() {
	t.mu.Lock()
	if !t.armed {
		// Lost the race to Delete or a re-arm; the reference is no
		// longer ours.
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.mu.Unlock()

	t.fn()
}
