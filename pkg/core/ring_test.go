package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacketRingInvalidCapacity(t *testing.T) {
	_, err := NewPacketRing(0)
	assert.Error(t, err)

	_, err = NewPacketRing(-1)
	assert.Error(t, err)
}

func TestPacketRingPushPop(t *testing.T) {
	r, err := NewPacketRing(4)
	require.NoError(t, err)

	assert.True(t, r.Empty())
	assert.Nil(t, r.Pop())

	a := NewPacket([]byte{1})
	b := NewPacket([]byte{2})
	require.NoError(t, r.Push(a))
	require.NoError(t, r.Push(b))

	assert.Equal(t, 2, r.Len())
	assert.Same(t, a, r.Pop())
	assert.Same(t, b, r.Pop())
	assert.True(t, r.Empty())
}

func TestPacketRingFull(t *testing.T) {
	r, err := NewPacketRing(2)
	require.NoError(t, err)

	require.NoError(t, r.Push(NewPacket([]byte{1})))
	require.NoError(t, r.Push(NewPacket([]byte{2})))

	// Third push must fail, not overwrite
	assert.Error(t, r.Push(NewPacket([]byte{3})))
	assert.Equal(t, 2, r.Len())
}

func TestPacketRingWraparound(t *testing.T) {
	r, err := NewPacketRing(2)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Push(NewPacket([]byte{byte(i)})))
		p := r.Pop()
		require.NotNil(t, p)
		assert.Equal(t, []byte{byte(i)}, p.Data())
	}
}

func TestPacketRingDrain(t *testing.T) {
	r, err := NewPacketRing(8)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Push(NewPacket([]byte{byte(i)})))
	}

	var seen int
	r.Drain(func(p Packet) { seen++ })
	assert.Equal(t, 5, seen)
	assert.True(t, r.Empty())

	// Draining an empty ring is a no-op
	r.Drain(func(p Packet) { seen++ })
	assert.Equal(t, 5, seen)
}

func TestPacketDebugModeCopies(t *testing.T) {
	SetDebugMode(true)
	defer SetDebugMode(false)

	src := []byte{1, 2, 3}
	p := NewPacket(src)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, p.Data())
}
