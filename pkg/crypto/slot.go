package crypto

import (
	"crypto/cipher"

	"golang.zx2c4.com/wireguard/replay"

	"github.com/irctrakz/ovpntun/pkg/lifetime"
	"github.com/irctrakz/ovpntun/pkg/rcu"
)

// NonceTailSize is the length of the fixed nonce tail of each direction.
const NonceTailSize = 8

// replayLimit bounds the receive packet-id space (32-bit ids on the wire).
const replayLimit = 1<<32 - 1

// KeySlot is one immutable bundle of key material and transform state. Key
// material and family never change after construction; only the identity
// attributes (remote peer id) are set by the installer. The slot is
// reference counted and destroyed through the reclamation domain so that
// lock-free readers never observe a freed slot.
type KeySlot struct {
	ops    Ops
	family Family

	keyID        uint16
	remotePeerID uint32

	encrypt cipher.AEAD
	decrypt cipher.AEAD

	nonceTailXmit [NonceTailSize]byte
	nonceTailRecv [NonceTailSize]byte

	// Receive replay protection state. Mutated by the decrypt path only.
	replay replay.Filter

	refs   lifetime.Count
	domain *rcu.Domain
}

// Hold takes a reference on the slot. It fails once the slot is terminal.
func (ks *KeySlot) Hold() bool {
	return ks.refs.Hold()
}

// Put drops a reference. The last Put schedules the destroy through the
// reclamation domain; without a domain (slot never installed) the destroy
// runs inline.
func (ks *KeySlot) Put() {
	ks.refs.Put(func() {
		if ks.domain != nil {
			ks.domain.Call(func() { ks.ops.Destroy(ks) })
			return
		}
		ks.ops.Destroy(ks)
	})
}

// KeyID returns the key identifier carried by the key config.
func (ks *KeySlot) KeyID() uint16 {
	return ks.keyID
}

// RemotePeerID returns the remote peer id the slot was installed for.
func (ks *KeySlot) RemotePeerID() uint32 {
	return ks.remotePeerID
}

// Family returns the slot's transform family.
func (ks *KeySlot) Family() Family {
	return ks.family
}

// EncapOverhead returns the per-packet encapsulation overhead in bytes.
func (ks *KeySlot) EncapOverhead() int {
	return ks.ops.EncapOverhead(ks)
}

// ReplayCheck validates a received packet id against the slot's replay
// window. It returns false for replayed or too-old ids.
func (ks *KeySlot) ReplayCheck(counter uint64) bool {
	return ks.replay.ValidateCounter(counter, replayLimit)
}
