// Package peer implements the reference-counted, RCU-published tunnel peer:
// its crypto state, transport binding, packet queues and keepalive timers,
// with deferred destruction so that in-flight lock-free readers never
// observe a freed peer.
package peer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/irctrakz/ovpntun/pkg/bind"
	"github.com/irctrakz/ovpntun/pkg/core"
	"github.com/irctrakz/ovpntun/pkg/crypto"
	"github.com/irctrakz/ovpntun/pkg/lifetime"
	"github.com/irctrakz/ovpntun/pkg/logging"
	"github.com/irctrakz/ovpntun/pkg/rcu"
)

// Peer errors
var (
	// ErrDeviceUnavailable is returned when the owning device is already
	// in teardown.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrNoBinding is returned when a transmit needs a binding and none
	// is installed.
	ErrNoBinding = errors.New("no binding installed")
)

// Status of a peer.
type Status int

// Peer statuses
const (
	StatusActive Status = iota
	StatusHalting
)

func (s Status) String() string {
	if s == StatusHalting {
		return "halting"
	}
	return "active"
}

// DefaultQueueSize is the capacity of each packet queue.
const DefaultQueueSize = 1024

// Config carries peer construction parameters.
type Config struct {
	// QueueSize is the capacity of the tx and rx queues. Zero selects
	// DefaultQueueSize.
	QueueSize int
}

// Peer is one remote tunnel endpoint. The reference count owns the object:
// the registry, every in-flight lookup and every armed keepalive timer hold
// one reference each. The last Put schedules the deferred release through
// the reclamation domain.
type Peer struct {
	dev    core.Device
	domain *rcu.Domain

	crypto  *crypto.State
	binding atomic.Pointer[bind.Binding]

	txQueue *core.PacketRing
	rxQueue *core.PacketRing

	// halt transitions exactly once, false to true. Once set, deletion
	// has been requested; holders must not route new traffic here.
	halt atomic.Bool
	refs lifetime.Count

	// lock serializes the keepalive timers' arm/disarm transitions.
	lock            sync.Mutex
	keepaliveXmit   *lifetime.Timer
	keepaliveExpire *lifetime.Timer

	// onExpire, if set, runs when the keepalive timeout fires, before the
	// expire reference is released.
	onExpire func(*Peer)
}

// New constructs a peer owned by dev with refcount 1 (the caller's
// reference). Construction failure releases everything already allocated.
func New(dev core.Device, domain *rcu.Domain, cfg Config) (*Peer, error) {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	if !dev.Hold() {
		return nil, ErrDeviceUnavailable
	}

	txQueue, err := core.NewPacketRing(queueSize)
	if err != nil {
		dev.Put()
		return nil, fmt.Errorf("cannot allocate tx queue: %w", err)
	}
	rxQueue, err := core.NewPacketRing(queueSize)
	if err != nil {
		dev.Put()
		return nil, fmt.Errorf("cannot allocate rx queue: %w", err)
	}

	p := &Peer{
		dev:     dev,
		domain:  domain,
		crypto:  crypto.NewState(domain),
		txQueue: txQueue,
		rxQueue: rxQueue,
	}
	p.keepaliveXmit = lifetime.NewTimer("keepalive-xmit", p, &p.lock, p.keepaliveXmitFire)
	p.keepaliveExpire = lifetime.NewTimer("keepalive-expire", p, &p.lock, p.keepaliveExpireFire)
	p.refs.Init(1)

	return p, nil
}

// NewWithBinding composes New with binding installation. If the binding
// cannot be constructed, the partially built peer is fully released.
func NewWithBinding(dev core.Device, domain *rcu.Domain, cfg Config, addr string) (*Peer, error) {
	p, err := New(dev, domain, cfg)
	if err != nil {
		return nil, err
	}

	if err := p.ResetBinding(addr); err != nil {
		p.Put()
		return nil, err
	}
	return p, nil
}

// Hold takes a reference. It fails once the peer is terminal; the caller
// must treat the peer as gone and retry the lookup.
func (p *Peer) Hold() bool {
	return p.refs.Hold()
}

// Put drops a reference. The last Put schedules the deferred release.
func (p *Peer) Put() {
	p.refs.Put(func() {
		p.domain.Call(p.release)
	})
}

// Delete requests logical deletion: it marks the peer halting, cancels the
// keepalive timers and releases the creation reference. Idempotent; holders
// of other references may still finish in-flight work.
func (p *Peer) Delete() {
	if !p.halt.CompareAndSwap(false, true) {
		return
	}
	p.timersDelete()
	p.Put()
}

// Halted reports whether deletion has been requested.
func (p *Peer) Halted() bool {
	return p.halt.Load()
}

// Status returns the peer status.
func (p *Peer) Status() Status {
	if p.halt.Load() {
		return StatusHalting
	}
	return StatusActive
}

// Crypto returns the peer's key slot container.
func (p *Peer) Crypto() *crypto.State {
	return p.crypto
}

// TxQueue returns the outbound packet queue.
func (p *Peer) TxQueue() *core.PacketRing {
	return p.txQueue
}

// RxQueue returns the inbound packet queue.
func (p *Peer) RxQueue() *core.PacketRing {
	return p.rxQueue
}

// Refs returns the current reference count. Intended for invariant checks
// and tests.
func (p *Peer) Refs() int32 {
	return p.refs.Value()
}

// ResetBinding constructs a new binding to addr and swaps it in. The old
// binding, if any, is closed after the grace period. On construction
// failure the existing binding is untouched.
func (p *Peer) ResetBinding(addr string) error {
	b, err := bind.FromAddress(addr)
	if err != nil {
		return err
	}

	old := p.binding.Swap(b)
	if old != nil {
		p.domain.Call(func() {
			if err := old.Close(); err != nil {
				logging.Warnf("peer: closing old binding: %v", err)
			}
		})
	}
	return nil
}

// Binding returns the current binding without taking a reference. Intended
// for control-plane inspection under the device lock.
func (p *Peer) Binding() *bind.Binding {
	return p.binding.Load()
}

// release tears the peer down. It runs on the reclamation goroutine, after
// the last reference dropped and the grace period elapsed, so no reader can
// reach the peer anymore.
func (p *Peer) release() {
	p.crypto.ReleaseAll()

	if b := p.binding.Swap(nil); b != nil {
		if err := b.Close(); err != nil {
			logging.Warnf("peer: closing binding at teardown: %v", err)
		}
	}

	// Armed timers hold references, so reaching here with one armed is a
	// defect; Delete reports it through the refcount underflow warning.
	p.timersDelete()

	if !p.txQueue.Empty() {
		logging.Warnf("peer teardown with %d packets left in tx queue", p.txQueue.Len())
	}
	p.txQueue.Drain(nil)
	if !p.rxQueue.Empty() {
		logging.Warnf("peer teardown with %d packets left in rx queue", p.rxQueue.Len())
	}
	p.rxQueue.Drain(nil)

	p.dev.Put()
}

func (p *Peer) timersDelete() {
	p.keepaliveXmit.Delete()
	p.keepaliveExpire.Delete()
}
