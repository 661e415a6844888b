// Package device implements the control plane of one tunnel instance: peer
// creation and deletion, key resets and keepalive configuration, serialized
// on a coarse mutex, against the lock-free data-plane lookups of pkg/peer.
package device

import (
	"errors"
	"sync"
	"time"

	"github.com/irctrakz/ovpntun/pkg/crypto"
	"github.com/irctrakz/ovpntun/pkg/lifetime"
	"github.com/irctrakz/ovpntun/pkg/logging"
	"github.com/irctrakz/ovpntun/pkg/peer"
	"github.com/irctrakz/ovpntun/pkg/rcu"
)

// Control-plane errors
var (
	// ErrPeerExists is returned when a peer is already published.
	ErrPeerExists = errors.New("peer already exists")

	// ErrNoPeer is returned when an operation needs a peer and none is
	// published.
	ErrNoPeer = errors.New("no peer")
)

// Config carries device construction parameters.
type Config struct {
	// Name identifies the tunnel instance in logs.
	Name string

	// QueueSize is the per-peer packet queue capacity. Zero selects the
	// peer default.
	QueueSize int
}

// Device is one tunnel instance. It owns the reclamation domain and the
// peer registry; every live peer holds a reference on it.
type Device struct {
	name      string
	queueSize int

	domain   *rcu.Domain
	registry *peer.Registry
	refs     lifetime.Count

	// mu is the control-plane mutex: the sole serializer of peer
	// creation/deletion and configuration commands.
	mu sync.Mutex
}

// New creates a device with its own reclamation domain.
func New(cfg Config) *Device {
	d := &Device{
		name:      cfg.Name,
		queueSize: cfg.QueueSize,
		domain:    rcu.NewDomain(),
	}
	d.registry = peer.NewRegistry(d.domain)
	d.refs.Init(1)
	return d
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Hold takes a reference on the device. Peers hold one for their lifetime.
func (d *Device) Hold() bool {
	return d.refs.Hold()
}

// Put releases a reference taken with Hold.
func (d *Device) Put() {
	d.refs.Put(func() {
		logging.Debugf("device %s released", d.name)
	})
}

// Lookup returns the active peer with a reference held, or nil. Data-plane
// entry point; lock-free.
func (d *Device) Lookup() *peer.Peer {
	return d.registry.Lookup()
}

// PeerCreate constructs a peer bound to addr and publishes it. Fails if a
// peer is already published.
func (d *Device) PeerCreate(addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.registry.Load() != nil {
		return ErrPeerExists
	}

	p, err := peer.NewWithBinding(d, d.domain, peer.Config{QueueSize: d.queueSize}, addr)
	if err != nil {
		return err
	}
	p.SetExpireHandler(d.peerExpired)

	// The creation reference transfers to the registry.
	d.registry.Publish(p)
	logging.Infof("device %s: peer %s published", d.name, addr)
	return nil
}

// PeerDelete unpublishes and logically deletes the active peer. In-flight
// holders finish their work; the teardown runs after the last reference
// drops.
func (d *Device) PeerDelete() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.registry.Clear()
	if p == nil {
		return ErrNoPeer
	}
	p.Delete()
	logging.Infof("device %s: peer deleted", d.name)
	return nil
}

// KeyReset installs key material into one slot of the active peer.
func (d *Device) KeyReset(pkr *crypto.KeyReset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.registry.Lookup()
	if p == nil {
		return ErrNoPeer
	}
	defer p.Put()

	return p.Crypto().Install(pkr)
}

// SlotDelete removes the key slot at the given position of the active peer.
func (d *Device) SlotDelete(slot crypto.Slot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.registry.Lookup()
	if p == nil {
		return ErrNoPeer
	}
	defer p.Put()

	_, err := p.Crypto().Remove(slot)
	return err
}

// SetKeepalive configures the active peer's keepalive timers.
func (d *Device) SetKeepalive(interval, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.registry.Lookup()
	if p == nil {
		return ErrNoPeer
	}
	defer p.Put()

	p.SetKeepalive(interval, timeout)
	return nil
}

// ExitNotify sends the explicit exit notification to the active peer as one
// atomic send unit under the control-plane lock.
func (d *Device) ExitNotify() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.registry.Lookup()
	if p == nil {
		return ErrNoPeer
	}
	defer p.Put()

	return p.SendExitNotify()
}

// peerExpired runs from the keepalive expiry path: it unpublishes the dead
// peer if it is still the active one, then deletes it.
func (d *Device) peerExpired(p *peer.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.registry.ClearIf(p) {
		logging.Infof("device %s: peer expired", d.name)
		p.Delete()
	}
}

// Close deletes the active peer, waits out pending reclamation and drops
// the owner reference. The device must not be used afterwards.
func (d *Device) Close() {
	if err := d.PeerDelete(); err != nil && !errors.Is(err, ErrNoPeer) {
		logging.Warnf("device %s: deleting peer at close: %v", d.name, err)
	}

	d.domain.Barrier()
	d.Put()
	d.domain.Stop()
}
