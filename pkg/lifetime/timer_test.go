package lifetime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOwner is a Referent backed by a plain Count.
type fakeOwner struct {
	refs     Count
	released chan struct{}
}

func newFakeOwner() *fakeOwner {
	o := &fakeOwner{released: make(chan struct{})}
	o.refs.Init(1)
	return o
}

func (o *fakeOwner) Hold() bool { return o.refs.Hold() }
func (o *fakeOwner) Put()       { o.refs.Put(func() { close(o.released) }) }

func TestTimerScheduleAcquiresArmingReference(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	require.NoError(t, tm.Schedule(0))
	assert.True(t, tm.Armed())
	assert.Equal(t, int32(2), owner.refs.Value())

	// Re-scheduling an armed timer with delta 0 changes nothing.
	require.NoError(t, tm.Schedule(0))
	assert.Equal(t, int32(2), owner.refs.Value())

	tm.Delete()
	assert.False(t, tm.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerDeleteDisarmedIsNoop(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	tm.Delete()
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerSchedulePlusOne(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	require.NoError(t, tm.Schedule(0))

	// +1 on an armed timer grows the count by exactly one.
	require.NoError(t, tm.Schedule(1))
	assert.Equal(t, int32(3), owner.refs.Value())

	tm.Delete()
	owner.refs.Init(1)

	// +1 on a disarmed timer has no valid reference source.
	tm2 := NewTimer("test", owner, &mu, func() {})
	tm2.SetPeriod(time.Hour)
	err := tm2.Schedule(1)
	assert.ErrorIs(t, err, ErrInvalidDelta)
	assert.False(t, tm2.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerScheduleInvalidDelta(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	assert.ErrorIs(t, tm.Schedule(2), ErrInvalidDelta)
	assert.ErrorIs(t, tm.Schedule(-2), ErrInvalidDelta)
	assert.False(t, tm.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerScheduleOwnerTerminal(t *testing.T) {
	owner := newFakeOwner()
	owner.refs.Init(1)
	owner.Put() // terminal
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	assert.ErrorIs(t, tm.Schedule(0), ErrUnavailable)
	assert.False(t, tm.Armed())
}

func TestTimerFireRearmKeepsNetReferences(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex

	fired := make(chan struct{}, 16)
	var tm *Timer
	tm = NewTimer("xmit", owner, &mu, func() {
		fired <- struct{}{}
		// Hand the arming reference back to the re-arm.
		_ = tm.Schedule(-1)
	})
	tm.SetPeriod(10 * time.Millisecond)

	require.NoError(t, tm.Schedule(0))
	assert.Equal(t, int32(2), owner.refs.Value())

	// Across several fire->rearm cycles the net count is unchanged.
	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}
	}
	assert.Equal(t, int32(2), owner.refs.Value())

	tm.Delete()
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerDeleteDuringFire(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	var tm *Timer
	tm = NewTimer("xmit", owner, &mu, func() {
		close(entered)
		<-release
		done <- tm.Schedule(-1)
	})
	tm.SetPeriod(5 * time.Millisecond)

	require.NoError(t, tm.Schedule(0))
	assert.Equal(t, int32(2), owner.refs.Value())

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	// The in-flight callback owns the arming reference. Delete must not
	// release it, and the callback's re-arm must settle it instead of
	// resurrecting the timer.
	tm.Delete()
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrUnavailable)
	case <-time.After(time.Second):
		t.Fatal("callback did not finish")
	}
	assert.False(t, tm.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())

	// Cancelled is terminal.
	assert.ErrorIs(t, tm.Schedule(0), ErrUnavailable)
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerExpireReleasesReference(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex

	fired := make(chan struct{})
	tm := NewTimer("expire", owner, &mu, func() {
		owner.Put() // consume the arming reference, no re-arm
		close(fired)
	})
	tm.SetPeriod(10 * time.Millisecond)

	require.NoError(t, tm.Schedule(0))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, tm.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerZeroPeriodDisarms(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex
	tm := NewTimer("test", owner, &mu, func() {})
	tm.SetPeriod(time.Hour)

	require.NoError(t, tm.Schedule(0))
	assert.Equal(t, int32(2), owner.refs.Value())

	// Period zero disables the timer on the next schedule.
	tm.SetPeriod(0)
	require.NoError(t, tm.Schedule(0))
	assert.False(t, tm.Armed())
	assert.Equal(t, int32(1), owner.refs.Value())
}

func TestTimerEventResetsWithoutReferences(t *testing.T) {
	owner := newFakeOwner()
	var mu sync.Mutex

	fired := make(chan struct{})
	tm := NewTimer("test", owner, &mu, func() { close(fired) })
	tm.SetPeriod(50 * time.Millisecond)

	require.NoError(t, tm.Schedule(0))
	before := owner.refs.Value()

	// Keep resetting; the timer must not fire while activity continues.
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		tm.Event()
	}
	select {
	case <-fired:
		t.Fatal("timer fired despite activity resets")
	default:
	}
	assert.Equal(t, before, owner.refs.Value())

	tm.Delete()
}
