package bind

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAddressInvalid(t *testing.T) {
	_, err := FromAddress("not-an-address")
	assert.Error(t, err)
}

func TestSendControl(t *testing.T) {
	// Listener standing in for the remote endpoint.
	lc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer lc.Close()

	b, err := FromAddress(lc.LocalAddr().String())
	require.NoError(t, err)
	defer b.Close()

	payload := []byte{0x2a, 0x18, 0x7b}
	require.NoError(t, b.SendControl(payload))

	buf := make([]byte, 64)
	require.NoError(t, lc.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := lc.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestRemote(t *testing.T) {
	b, err := FromAddress("127.0.0.1:4789")
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "127.0.0.1:4789", b.Remote().String())
	assert.Equal(t, "127.0.0.1:4789", b.String())
}
