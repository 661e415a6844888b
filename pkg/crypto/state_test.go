package crypto

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irctrakz/ovpntun/pkg/rcu"
)

func testKeyConfig(alg CipherAlg, keyID uint16) KeyConfig {
	keyLen := 32
	key := bytes.Repeat([]byte{0x42}, keyLen)
	tail := bytes.Repeat([]byte{0x07}, NonceTailSize)
	return KeyConfig{
		KeyID:     keyID,
		CipherAlg: alg,
		Encrypt:   KeyDirection{CipherKey: key, NonceTail: tail},
		Decrypt:   KeyDirection{CipherKey: key, NonceTail: tail},
	}
}

func testKeyReset(slot Slot, alg CipherAlg, keyID uint16) *KeyReset {
	return &KeyReset{
		Slot:         slot,
		RemotePeerID: 100,
		Key:          testKeyConfig(alg, keyID),
	}
}

func newTestState(t *testing.T) (*State, *rcu.Domain) {
	t.Helper()
	d := rcu.NewDomain()
	t.Cleanup(d.Stop)
	return NewState(d), d
}

// Scenario: no keys -> overhead fails; primary AEAD -> fixed overhead;
// secondary of a different family -> consistency error, primary untouched.
func TestStateInstallAndOverhead(t *testing.T) {
	s, _ := newTestState(t)

	_, err := s.EncapOverhead()
	assert.ErrorIs(t, err, ErrNoKey)

	require.NoError(t, s.Install(testKeyReset(SlotPrimary, AlgAESGCM, 1)))

	n, err := s.EncapOverhead()
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	before := s.Read(SlotPrimary)
	require.NotNil(t, before)
	defer before.Put()

	err = s.Install(testKeyReset(SlotSecondary, AlgAESCBC, 2))
	assert.ErrorIs(t, err, ErrFamilyMismatch)

	after := s.Read(SlotPrimary)
	require.NotNil(t, after)
	defer after.Put()
	assert.Same(t, before, after, "primary slot must be untouched")
	assert.Nil(t, s.Read(SlotSecondary))
}

func TestStateReservedFamily(t *testing.T) {
	s, _ := newTestState(t)

	err := s.Install(testKeyReset(SlotPrimary, AlgAESCBC, 1))
	assert.ErrorIs(t, err, ErrUnsupportedFamily)
	assert.Nil(t, s.Read(SlotPrimary))
}

func TestStateUndefinedFamily(t *testing.T) {
	s, _ := newTestState(t)

	err := s.Install(testKeyReset(SlotPrimary, AlgNone, 1))
	assert.ErrorIs(t, err, ErrUnsupportedFamily)
}

func TestStateInvalidSlot(t *testing.T) {
	s, _ := newTestState(t)

	err := s.Install(testKeyReset(Slot(7), AlgAESGCM, 1))
	assert.ErrorIs(t, err, ErrInvalidSlot)

	// Nothing published in either position.
	assert.Nil(t, s.Read(SlotPrimary))
	assert.Nil(t, s.Read(SlotSecondary))

	_, err = s.Remove(Slot(7))
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestStateRemoveIdempotent(t *testing.T) {
	s, _ := newTestState(t)

	require.NoError(t, s.Install(testKeyReset(SlotSecondary, AlgChaCha20Poly1305, 3)))

	removed, err := s.Remove(SlotSecondary)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(SlotSecondary)
	require.NoError(t, err)
	assert.False(t, removed, "removing an empty slot is a no-op")
}

func TestStateRekeySameFamily(t *testing.T) {
	s, _ := newTestState(t)

	require.NoError(t, s.Install(testKeyReset(SlotPrimary, AlgAESGCM, 1)))
	// ChaCha is the same family: rotation is allowed.
	require.NoError(t, s.Install(testKeyReset(SlotPrimary, AlgChaCha20Poly1305, 2)))

	ks := s.Read(SlotPrimary)
	require.NotNil(t, ks)
	defer ks.Put()
	assert.Equal(t, uint16(2), ks.KeyID())
	assert.Equal(t, uint32(100), ks.RemotePeerID())
}

// Concurrent installs and removes against lock-free readers: every read must
// observe a fully formed slot or nil, never a destroyed one.
func TestStateConcurrentReadersNeverTorn(t *testing.T) {
	s, d := newTestState(t)

	var torn atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ks := s.Read(SlotPrimary)
				if ks == nil {
					continue
				}
				// A fully formed AEAD slot always reports the
				// fixed overhead and live transforms.
				if ks.EncapOverhead() != 24 || ks.encrypt == nil {
					torn.Add(1)
				}
				ks.Put()
			}
		}()
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Install(testKeyReset(SlotPrimary, AlgAESGCM, uint16(i))))
		if i%10 == 0 {
			_, err := s.Remove(SlotPrimary)
			require.NoError(t, err)
		}
	}
	close(stop)
	wg.Wait()
	d.Barrier()

	assert.Equal(t, int64(0), torn.Load())
}

func TestStateReleaseAll(t *testing.T) {
	s, d := newTestState(t)

	require.NoError(t, s.Install(testKeyReset(SlotPrimary, AlgAESGCM, 1)))
	require.NoError(t, s.Install(testKeyReset(SlotSecondary, AlgAESGCM, 2)))

	s.ReleaseAll()
	d.Barrier()

	assert.Nil(t, s.Read(SlotPrimary))
	assert.Nil(t, s.Read(SlotSecondary))
	_, err := s.EncapOverhead()
	assert.ErrorIs(t, err, ErrNoKey)
}
