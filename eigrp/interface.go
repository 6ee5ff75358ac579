package eigrp

import (
	"net/netip"
	"time"

	"github.com/gsim047/eigrpd/internal/xtimer"
	"github.com/gsim047/eigrpd/packet"
)

// InterfaceConfig configures one EIGRP-speaking interface (§3).
type InterfaceConfig struct {
	Name          string
	Index         int
	LocalAddr     netip.Addr
	Network       netip.Prefix
	Bandwidth     uint32
	Delay         uint32
	HelloInterval time.Duration
	HoldTime      time.Duration
	AuthKind      packet.AuthKind
	KeychainName  string
}

// Interface is a live EIGRP-speaking interface (§3). It has no outbound
// packet FIFO of its own: packets go straight to the raw socket, and the
// `onWriteQueue` flag is not set anywhere in this package.
type Interface struct {
	Name          string
	Index         int
	LocalAddr     netip.Addr
	Network       netip.Prefix
	Bandwidth     uint32
	Delay         uint32
	HelloInterval time.Duration
	HoldTime      time.Duration
	AuthKind      packet.AuthKind
	KeychainName  string

	helloTimer   *xtimer.Timer
	onWriteQueue bool
}

// Contains reports whether addr falls inside this interface's configured
// network (§7: ErrNetworkMismatch when it does not).
func (i *Interface) Contains(addr netip.Addr) bool {
	return i.Network.Contains(addr)
}

// newHelloTimer wraps xtimer.New for a periodically repeating Hello
// timer; fire is expected to re-arm it (see AS.armHelloTimer).
func newHelloTimer(d time.Duration, fire func()) *xtimer.Timer {
	return xtimer.New(d, fire)
}
