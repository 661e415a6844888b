package core

import (
	"fmt"
	"sync"
)

// PacketRing is a fixed-capacity packet queue. Push fails when the ring is
// full; the caller is expected to drop the packet and count it. The ring is
// drained only by its owner during teardown.
type PacketRing struct {
	mu    sync.Mutex
	buf   []Packet
	head  int
	tail  int
	count int
}

// NewPacketRing creates a ring with the given capacity.
func NewPacketRing(capacity int) (*PacketRing, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid ring capacity: %d", capacity)
	}
	return &PacketRing{buf: make([]Packet, capacity)}, nil
}

// Push enqueues a packet. It fails when the ring is full.
func (r *PacketRing) Push(p Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		return fmt.Errorf("ring full (capacity %d)", len(r.buf))
	}
	r.buf[r.tail] = p
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	return nil
}

// Pop dequeues the oldest packet, or returns nil if the ring is empty.
func (r *PacketRing) Pop() Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}
	p := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return p
}

// Drain removes all queued packets, invoking visit on each if non-nil.
func (r *PacketRing) Drain(visit func(Packet)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count > 0 {
		p := r.buf[r.head]
		r.buf[r.head] = nil
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		if visit != nil {
			visit(p)
		}
	}
}

// Empty reports whether the ring holds no packets.
func (r *PacketRing) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

// Len returns the number of queued packets.
func (r *PacketRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
