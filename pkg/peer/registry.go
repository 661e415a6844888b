package peer

import (
	"sync/atomic"

	"github.com/irctrakz/ovpntun/pkg/rcu"
)

// Registry is the single RCU-published pointer through which the active peer
// of a tunnel instance is looked up. Writers are serialized externally by
// the control-plane lock; lookups are lock-free.
type Registry struct {
	domain *rcu.Domain
	peer   atomic.Pointer[Peer]
}

// NewRegistry creates an empty registry on the given reclamation domain.
func NewRegistry(domain *rcu.Domain) *Registry {
	return &Registry{domain: domain}
}

// Lookup returns the published peer with a reference held, or nil if no
// peer is published or the published peer is already terminal.
func (r *Registry) Lookup() *Peer {
	t := r.domain.ReadLock()
	defer r.domain.ReadUnlock(t)

	p := r.peer.Load()
	if p != nil && !p.Hold() {
		p = nil
	}
	return p
}

// Load returns the published peer without taking a reference. Only for use
// under the control-plane lock.
func (r *Registry) Load() *Peer {
	return r.peer.Load()
}

// Publish stores p as the active peer, transferring the caller's reference
// to the registry.
func (r *Registry) Publish(p *Peer) {
	r.peer.Store(p)
}

// Clear unpublishes the active peer and returns it, handing the registry's
// reference back to the caller.
func (r *Registry) Clear() *Peer {
	return r.peer.Swap(nil)
}

// ClearIf unpublishes p only if it is still the active peer, returning
// whether it was.
func (r *Registry) ClearIf(p *Peer) bool {
	return r.peer.CompareAndSwap(p, nil)
}
