// Package rcu implements epoch-based grace-period reclamation for the
// lock-free read paths of the tunnel core. Readers enter a read-side
// critical section with ReadLock/ReadUnlock; writers unpublish an object and
// hand its destructor to Call, which runs it only after every read section
// that predates the call has ended.
package rcu

import (
	"sync"
	"sync/atomic"
	"time"
)

// ReadTicket identifies the epoch slot a reader entered under. It must be
// passed back to ReadUnlock.
type ReadTicket struct {
	slot uint64
}

// Domain is one reclamation domain. Readers never block; Synchronize waits
// for pre-existing readers only.
type Domain struct {
	epoch   atomic.Uint64
	readers [2]atomic.Int64

	syncMu sync.Mutex // serializes grace periods

	mu      sync.Mutex
	pending []func()
	stopped bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewDomain creates a domain and starts its background reclaimer.
func NewDomain() *Domain {
	d := &Domain{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.reclaimer()
	return d
}

// ReadLock enters a read-side critical section. The section must be short
// and must not block.
func (d *Domain) ReadLock() ReadTicket {
	for {
		e := d.epoch.Load() & 1
		d.readers[e].Add(1)
		if d.epoch.Load()&1 == e {
			return ReadTicket{slot: e}
		}
		// Raced with an epoch flip; retry on the new epoch.
		d.readers[e].Add(-1)
	}
}

// ReadUnlock leaves the read-side critical section entered with t.
func (d *Domain) ReadUnlock(t ReadTicket) {
	d.readers[t.slot].Add(-1)
}

// Synchronize blocks until every read section that began before the call has
// ended.
func (d *Domain) Synchronize() {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	old := d.epoch.Load() & 1
	d.epoch.Add(1)
	for d.readers[old].Load() != 0 {
		time.Sleep(50 * time.Microsecond)
	}
}

// Call schedules fn to run after a grace period. fn runs on the reclaimer
// goroutine; it must not re-enter Synchronize. After Stop, fn runs inline on
// the caller once the grace period elapses, so late releases are never lost.
func (d *Domain) Call(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.Synchronize()
		fn()
		return
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Barrier waits until every callback scheduled before the call has run.
func (d *Domain) Barrier() {
	c := make(chan struct{})
	d.Call(func() { close(c) })
	<-c
}

// Stop runs the remaining callbacks after a final grace period and shuts the
// reclaimer down. Callbacks scheduled afterwards still run, inline in Call.
func (d *Domain) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	close(d.stop)
	<-d.done
}

func (d *Domain) reclaimer() {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.reclaim()
		case <-d.stop:
			d.reclaim()
			return
		}
	}
}

func (d *Domain) reclaim() {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		d.Synchronize()
		for _, fn := range batch {
			fn()
		}
	}
}
