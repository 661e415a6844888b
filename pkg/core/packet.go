// Package core defines the contracts shared between the tunnel core and its
// collaborators: packets, packet queues and the owning tunnel device.
package core

import (
	"sync/atomic"
)

// Global debug flag that can be set via configuration
var debugMode uint32

// SetDebugMode sets the global debug mode flag.
// When debug mode is enabled, packet data is copied for safety.
// When disabled, packet data is not copied for performance.
func SetDebugMode(enabled bool) {
	if enabled {
		atomic.StoreUint32(&debugMode, 1)
	} else {
		atomic.StoreUint32(&debugMode, 0)
	}
}

// IsDebugMode returns whether debug mode is enabled
func IsDebugMode() bool {
	return atomic.LoadUint32(&debugMode) == 1
}

// Strict keepalive granularity: when enabled, only explicit keepalive pings
// reset the transmit keepalive timer; ordinary outbound traffic does not.
var strictKeepalive uint32

// SetStrictKeepalive sets the strict keepalive granularity flag.
func SetStrictKeepalive(enabled bool) {
	if enabled {
		atomic.StoreUint32(&strictKeepalive, 1)
	} else {
		atomic.StoreUint32(&strictKeepalive, 0)
	}
}

// IsStrictKeepalive returns whether strict keepalive granularity is enabled
func IsStrictKeepalive() bool {
	return atomic.LoadUint32(&strictKeepalive) == 1
}

// Packet represents a network packet queued towards or from a peer.
type Packet interface {
	// Data returns the packet data.
	// In debug mode, this returns a copy of the data.
	Data() []byte

	// Length returns the packet length
	Length() int
}

// SimplePacket is a simple implementation of Packet
type SimplePacket struct {
	data []byte
}

// NewPacket creates a new packet
func NewPacket(data []byte) Packet {
	if data == nil {
		return &SimplePacket{data: make([]byte, 0)}
	}

	// In debug mode, make a copy of the data for safety
	if IsDebugMode() {
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		return &SimplePacket{data: dataCopy}
	}

	return &SimplePacket{data: data}
}

// Data returns the packet data
func (p *SimplePacket) Data() []byte {
	if IsDebugMode() {
		dataCopy := make([]byte, len(p.data))
		copy(dataCopy, p.data)
		return dataCopy
	}
	return p.data
}

// Length returns the packet length
func (p *SimplePacket) Length() int {
	return len(p.data)
}
