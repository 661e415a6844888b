// Package bind implements the transport-address association of a peer: a
// connected UDP socket towards the remote endpoint, swappable atomically and
// released through the grace period like a key slot.
package bind

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/irctrakz/ovpntun/pkg/logging"
)

// Control traffic is marked CS6 (network control) on IPv4 sockets.
const controlTOS = 0xc0

// Binding is one remote-address association. It is immutable after
// construction; replacing a peer's binding swaps in a whole new Binding.
type Binding struct {
	remote *net.UDPAddr
	conn   *net.UDPConn
}

// FromAddress resolves addr and opens a connected UDP socket to it.
func FromAddress(addr string) (*Binding, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}

	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", addr, err)
	}

	// Best effort: keepalive and exit-notify payloads ride with control
	// precedence.
	if remote.IP.To4() != nil {
		if err := ipv4.NewConn(conn).SetTOS(controlTOS); err != nil {
			logging.Debugf("bind %s: cannot set TOS: %v", remote, err)
		}
	}

	return &Binding{remote: remote, conn: conn}, nil
}

// Remote returns the bound remote address.
func (b *Binding) Remote() *net.UDPAddr {
	return b.remote
}

// SendControl transmits an out-of-band control payload to the remote.
func (b *Binding) SendControl(payload []byte) error {
	if _, err := b.conn.Write(payload); err != nil {
		return fmt.Errorf("send control to %s: %w", b.remote, err)
	}
	return nil
}

// Close releases the socket. Invoked only after the binding has been
// unpublished and the grace period has elapsed.
func (b *Binding) Close() error {
	return b.conn.Close()
}

func (b *Binding) String() string {
	return b.remote.String()
}
