// Package crypto implements the per-peer key slot container: up to two
// reference-counted key slots (primary and secondary) published through
// RCU-style pointers, with writers serialized on a mutex and readers never
// blocking.
package crypto

import (
	"errors"
	"fmt"
)

// Control-plane errors
var (
	// ErrNoKey is returned when an operation needs the primary key slot
	// and none is installed.
	ErrNoKey = errors.New("no key installed")

	// ErrFamilyMismatch is returned when a key reset declares a transform
	// family different from the one already fixed for the state.
	ErrFamilyMismatch = errors.New("crypto family mismatch")

	// ErrUnsupportedFamily is returned for reserved or unknown transform
	// families.
	ErrUnsupportedFamily = errors.New("unsupported crypto family")

	// ErrInvalidSlot is returned for an unknown key slot position.
	ErrInvalidSlot = errors.New("invalid key slot")
)

// Family is the transform family of a crypto state. Once fixed by the first
// key install it cannot change.
type Family int

// Transform families
const (
	FamilyUndefined Family = iota
	FamilyAEAD
	FamilyCBCHMAC // reserved, not implemented
)

func (f Family) String() string {
	switch f {
	case FamilyAEAD:
		return "aead"
	case FamilyCBCHMAC:
		return "cbc-hmac"
	default:
		return "undefined"
	}
}

// CipherAlg identifies the cipher algorithm carried by a key config.
type CipherAlg int

// Cipher algorithms
const (
	AlgNone CipherAlg = iota
	AlgAESGCM
	AlgAESCBC
	AlgChaCha20Poly1305
)

// ParseCipherAlg maps a config string to a cipher algorithm.
func ParseCipherAlg(s string) (CipherAlg, error) {
	switch s {
	case "aes-gcm":
		return AlgAESGCM, nil
	case "aes-cbc":
		return AlgAESCBC, nil
	case "chacha20-poly1305":
		return AlgChaCha20Poly1305, nil
	default:
		return AlgNone, fmt.Errorf("unknown cipher algorithm: %q", s)
	}
}

func (a CipherAlg) String() string {
	switch a {
	case AlgAESGCM:
		return "aes-gcm"
	case AlgAESCBC:
		return "aes-cbc"
	case AlgChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "none"
	}
}

// Family returns the transform family the algorithm belongs to.
func (a CipherAlg) Family() Family {
	switch a {
	case AlgAESGCM, AlgChaCha20Poly1305:
		return FamilyAEAD
	case AlgAESCBC:
		return FamilyCBCHMAC
	default:
		return FamilyUndefined
	}
}

// Slot is a key slot position inside a crypto state.
type Slot int

// Slot positions
const (
	SlotPrimary Slot = iota
	SlotSecondary
)

func (s Slot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// KeyDirection is the key material for one direction of traffic.
type KeyDirection struct {
	// CipherKey is the raw cipher key, sized per algorithm.
	CipherKey []byte

	// NonceTail is the fixed nonce tail, NonceTailSize bytes.
	NonceTail []byte
}

// KeyConfig is the material carried by a key-reset command.
type KeyConfig struct {
	KeyID     uint16
	CipherAlg CipherAlg
	Encrypt   KeyDirection
	Decrypt   KeyDirection
}

// KeyReset is the key-reset control command.
type KeyReset struct {
	Slot         Slot
	RemotePeerID uint32
	Key          KeyConfig
}

// Ops is the per-family operation set of a key slot.
type Ops interface {
	// New constructs a key slot from a key config. Construction failures
	// (bad key material, bad lengths) leave no partial state.
	New(kc *KeyConfig) (*KeySlot, error)

	// Destroy releases the slot's transform resources. Invoked only via
	// deferred reclamation, after the last reference is dropped.
	Destroy(ks *KeySlot)

	// EncapOverhead returns the per-packet encapsulation overhead in
	// bytes.
	EncapOverhead(ks *KeySlot) int
}
