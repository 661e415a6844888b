package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Wire layout constants for the AEAD family
const (
	opHeaderSize = 4  // OP header
	packetIDSize = 4  // packet id prefix
	aeadTagSize  = 16 // auth tag
)

// AEADOps is the operation set of the AEAD transform family (AES-GCM and
// ChaCha20-Poly1305).
var AEADOps Ops = aeadOps{}

type aeadOps struct{}

func newAEAD(alg CipherAlg, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aes-gcm key: %w", err)
		}
		return cipher.NewGCM(block)
	case AlgChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("chacha20-poly1305 key: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("%w: %s is not an AEAD algorithm", ErrUnsupportedFamily, alg)
	}
}

// New constructs an AEAD key slot. Any failure leaves no partial state
// behind.
func (aeadOps) New(kc *KeyConfig) (*KeySlot, error) {
	encrypt, err := newAEAD(kc.CipherAlg, kc.Encrypt.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt direction: %w", err)
	}
	decrypt, err := newAEAD(kc.CipherAlg, kc.Decrypt.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt direction: %w", err)
	}

	if len(kc.Encrypt.NonceTail) != NonceTailSize ||
		len(kc.Decrypt.NonceTail) != NonceTailSize {
		return nil, fmt.Errorf("nonce tail must be %d bytes", NonceTailSize)
	}

	ks := &KeySlot{
		ops:     AEADOps,
		family:  FamilyAEAD,
		keyID:   kc.KeyID,
		encrypt: encrypt,
		decrypt: decrypt,
	}
	copy(ks.nonceTailXmit[:], kc.Encrypt.NonceTail)
	copy(ks.nonceTailRecv[:], kc.Decrypt.NonceTail)
	ks.refs.Init(1)

	return ks, nil
}

// Destroy drops the transform handles. Go offers no way to erase key
// material from memory, so dropping the references is all we can do.
func (aeadOps) Destroy(ks *KeySlot) {
	if ks == nil {
		return
	}
	ks.encrypt = nil
	ks.decrypt = nil
}

// EncapOverhead returns the fixed AEAD encapsulation overhead.
func (aeadOps) EncapOverhead(ks *KeySlot) int {
	return opHeaderSize + packetIDSize + aeadTagSize
}
