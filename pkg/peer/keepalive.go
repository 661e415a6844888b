package peer

import (
	"time"

	"github.com/irctrakz/ovpntun/pkg/core"
	"github.com/irctrakz/ovpntun/pkg/lifetime"
	"github.com/irctrakz/ovpntun/pkg/logging"
)

// keepaliveMessage is the fixed out-of-band keepalive payload.
var keepaliveMessage = []byte{
	0x2a, 0x18, 0x7b, 0xf3, 0x64, 0x1e, 0xb4, 0xcb,
	0x07, 0xed, 0x2d, 0x0a, 0x98, 0x1f, 0xc7, 0x48,
}

// exitNotifyMessage is the fixed explicit-exit-notify payload.
var exitNotifyMessage = []byte{
	0x28, 0x7f, 0x34, 0x6b, 0xd4, 0xef, 0x7a, 0x81,
	0x2d, 0x56, 0xb8, 0xd3, 0xaf, 0xc5, 0x45, 0x9c,
	0x06,
}

// SetKeepalive configures and (re)schedules both keepalive timers. Delta 0
// expresses "apply settings to an already-referenced pair": a disarmed timer
// acquires its own arming reference, an armed one keeps what it holds, so
// the call is idempotent. A zero interval or timeout disables that timer.
func (p *Peer) SetKeepalive(interval, timeout time.Duration) {
	p.keepaliveXmit.SetPeriod(interval)
	if err := p.keepaliveXmit.Schedule(0); err != nil {
		logging.Warnf("peer: scheduling keepalive transmit: %v", err)
	}

	p.keepaliveExpire.SetPeriod(timeout)
	if err := p.keepaliveExpire.Schedule(0); err != nil {
		logging.Warnf("peer: scheduling keepalive expiry: %v", err)
	}
}

// UpdateTransmitActivity resets the transmit keepalive countdown from the
// ordinary outbound traffic path. No reference traffic: the armed timer
// already owns its reference. Suppressed under strict keepalive granularity,
// where only explicit pings reset the countdown.
func (p *Peer) UpdateTransmitActivity() {
	if core.IsStrictKeepalive() {
		return
	}
	p.keepaliveXmit.Event()
}

// UpdateReceiveActivity resets the expiry countdown when traffic arrives
// from the remote.
func (p *Peer) UpdateReceiveActivity() {
	p.keepaliveExpire.Event()
}

// SetExpireHandler installs a hook invoked when the keepalive timeout
// expires, before the expire reference is released. The device uses it to
// unpublish the dead peer.
func (p *Peer) SetExpireHandler(fn func(*Peer)) {
	p.onExpire = fn
}

// SendExitNotify transmits the explicit exit notification. The caller runs
// it under the control-plane lock; the send itself is one atomic unit.
func (p *Peer) SendExitNotify() error {
	return p.sendControl(exitNotifyMessage)
}

// keepaliveXmitFire runs when the transmit interval elapses with no outbound
// activity. It holds the arming reference and hands it back to the re-arm.
// On a halting peer the fire releases the reference and stays silent.
func (p *Peer) keepaliveXmitFire() {
	if p.Halted() {
		p.Put()
		return
	}
	if err := p.sendControl(keepaliveMessage); err != nil {
		logging.Debugf("peer: keepalive transmit: %v", err)
	}
	if err := p.keepaliveXmit.Schedule(-1); err != nil && err != lifetime.ErrUnavailable {
		logging.Warnf("peer: rearming keepalive transmit: %v", err)
	}
}

// keepaliveExpireFire runs when no traffic was seen within the timeout. The
// arming reference is released; no re-arm.
func (p *Peer) keepaliveExpireFire() {
	logging.Infof("peer keepalive expired")
	if fn := p.onExpire; fn != nil {
		fn(p)
	}
	p.Put()
}

// sendControl transmits an out-of-band payload through the current binding
// inside a read-side critical section.
func (p *Peer) sendControl(payload []byte) error {
	t := p.domain.ReadLock()
	defer p.domain.ReadUnlock(t)

	b := p.binding.Load()
	if b == nil {
		return ErrNoBinding
	}
	return b.SendControl(payload)
}
