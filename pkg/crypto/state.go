package crypto

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/ovpntun/pkg/logging"
	"github.com/irctrakz/ovpntun/pkg/rcu"
)

// State holds a peer's primary and secondary key slots. Writers (install,
// remove) serialize on the mutex; readers take lock-free snapshots through
// the published pointers and are protected by grace-period reclamation of
// replaced slots.
type State struct {
	mu sync.Mutex

	primary   atomic.Pointer[KeySlot]
	secondary atomic.Pointer[KeySlot]

	// Fixed by the first install; a later reset with a different family
	// is rejected.
	family Family
	ops    Ops

	domain *rcu.Domain
}

// NewState creates an empty crypto state using the given reclamation domain.
func NewState(domain *rcu.Domain) *State {
	return &State{domain: domain}
}

func familyOps(f Family) (Ops, error) {
	switch f {
	case FamilyAEAD:
		return AEADOps, nil
	case FamilyCBCHMAC:
		// Reserved family, no implementation.
		return nil, ErrUnsupportedFamily
	default:
		return nil, ErrUnsupportedFamily
	}
}

// selectFamilyLocked validates the declared family against the fixed one and
// fixes it on first install.
func (s *State) selectFamilyLocked(kc *KeyConfig) error {
	family := kc.CipherAlg.Family()

	if s.family != FamilyUndefined && family != s.family {
		return ErrFamilyMismatch
	}

	ops, err := familyOps(family)
	if err != nil {
		return err
	}

	s.family = family
	s.ops = ops
	return nil
}

// Install processes a key reset: it constructs a new slot and swaps it into
// the requested position atomically with respect to readers. The previous
// occupant is released after the swap, through the grace period.
func (s *State) Install(pkr *KeyReset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectFamilyLocked(&pkr.Key); err != nil {
		return err
	}

	ks, err := s.ops.New(&pkr.Key)
	if err != nil {
		return err
	}
	ks.remotePeerID = pkr.RemotePeerID
	ks.domain = s.domain

	var old *KeySlot
	switch pkr.Slot {
	case SlotPrimary:
		old = s.primary.Swap(ks)
	case SlotSecondary:
		old = s.secondary.Swap(ks)
	default:
		// Unknown position: release the freshly built slot, nothing
		// was published.
		ks.Put()
		return ErrInvalidSlot
	}

	logging.WithFields(logrus.Fields{
		"slot":        pkr.Slot,
		"key_id":      ks.keyID,
		"remote_peer": ks.remotePeerID,
	}).Debugf("new key installed")

	if old != nil {
		old.Put()
	}
	return nil
}

// Remove unpublishes the slot at the given position. Removing an empty
// position is a no-op; the return value reports whether a slot was removed.
func (s *State) Remove(slot Slot) (bool, error) {
	s.mu.Lock()
	var ks *KeySlot
	switch slot {
	case SlotPrimary:
		ks = s.primary.Swap(nil)
	case SlotSecondary:
		ks = s.secondary.Swap(nil)
	default:
		s.mu.Unlock()
		return false, ErrInvalidSlot
	}
	s.mu.Unlock()

	if ks == nil {
		logging.Debugf("key slot already released: %s", slot)
		return false, nil
	}

	ks.Put()
	return true, nil
}

// Read takes a snapshot reference to the slot currently published at the
// given position, or nil if the position is empty. The caller must Put the
// returned slot when done. Safe to call concurrently with Install/Remove.
func (s *State) Read(slot Slot) *KeySlot {
	t := s.domain.ReadLock()
	defer s.domain.ReadUnlock(t)

	var ks *KeySlot
	switch slot {
	case SlotPrimary:
		ks = s.primary.Load()
	case SlotSecondary:
		ks = s.secondary.Load()
	}
	if ks != nil && !ks.Hold() {
		ks = nil
	}
	return ks
}

// EncapOverhead returns the encapsulation overhead of the primary slot, or
// ErrNoKey if no primary key is installed. Lock-free.
func (s *State) EncapOverhead() (int, error) {
	t := s.domain.ReadLock()
	defer s.domain.ReadUnlock(t)

	ks := s.primary.Load()
	if ks == nil {
		return 0, ErrNoKey
	}
	return ks.EncapOverhead(), nil
}

// ReleaseAll unpublishes both positions and drops their references. It may
// only be invoked from the owning peer's deferred release path, when no
// reader can reach the state anymore.
func (s *State) ReleaseAll() {
	if ks := s.primary.Swap(nil); ks != nil {
		ks.Put()
	}
	if ks := s.secondary.Swap(nil); ks != nil {
		ks.Put()
	}
}
