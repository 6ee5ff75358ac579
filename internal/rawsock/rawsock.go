// Package rawsock opens the single raw IP socket each AS instance uses to
// send and receive EIGRP packets (§6: IP protocol 88, IP_HDRINCL, TTL 1,
// TOS 0xC0, joined to 224.0.0.10 per active interface). It uses
// golang.org/x/sys/unix directly rather than net.IPConn because IP_HDRINCL
// and per-interface multicast-group membership aren't exposed by the
// standard library's IP socket type — the same reason
// runZeroInc-sockstats and caddyserver/caddy reach for x/sys/unix instead
// of net for low-level socket options.
package rawsock

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ProtocolEIGRP is IP protocol number 88.
const ProtocolEIGRP = 88

// AllEIGRPRouters is the EIGRP all-routers multicast group, 224.0.0.10.
var AllEIGRPRouters = netip.MustParseAddr("224.0.0.10")

// Socket is a raw IPv4 socket with IP_HDRINCL set, used to send
// caller-built IP+EIGRP packets and receive inbound ones.
type Socket struct {
	fd int
}

// Open creates the raw socket, sets IP_HDRINCL and the default TOS, and
// wraps the fd. The caller is responsible for joining multicast groups
// per interface via JoinGroup as interfaces come up.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, ProtocolEIGRP)
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: IP_HDRINCL: %w", err)
	}
	// INTERNETCONTROL (0xC0), per §6.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, 0xC0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: IP_TOS: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: SO_REUSEADDR: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Fd returns the raw file descriptor, for use with a scheduler's readiness
// poller.
func (s *Socket) Fd() int { return s.fd }

// JoinGroup joins the all-EIGRP-routers multicast group on ifIndex.
func (s *Socket) JoinGroup(ifIndex int) error {
	mreq := unix.IPMreqn{
		Multiaddr: [4]byte(AllEIGRPRouters.As4()),
		Ifindex:   int32(ifIndex),
	}
	return unix.SetsockoptIPMreqn(s.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq)
}

// LeaveGroup leaves the all-EIGRP-routers multicast group on ifIndex.
func (s *Socket) LeaveGroup(ifIndex int) error {
	mreq := unix.IPMreqn{
		Multiaddr: [4]byte(AllEIGRPRouters.As4()),
		Ifindex:   int32(ifIndex),
	}
	return unix.SetsockoptIPMreqn(s.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, &mreq)
}

// SendTo writes a fully-built IP+EIGRP datagram (IP_HDRINCL) to dst.
func (s *Socket) SendTo(b []byte, dst netip.Addr) error {
	addr := unix.SockaddrInet4{Addr: dst.As4()}
	return unix.Sendto(s.fd, b, 0, &addr)
}

// Recv reads one datagram, including the IP header (§6: "incoming packets
// have IP header stripped only after validation and length reconciliation
// against ip_len").
func (s *Socket) Recv(buf []byte) (n int, src netip.Addr, err error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, netip.Addr{}, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return 0, netip.Addr{}, fmt.Errorf("rawsock: unexpected sockaddr type %T", from)
	}
	return n, netip.AddrFrom4(sa4.Addr), nil
}

// Close closes the underlying socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// InterfaceIndex resolves an interface name to its OS index, used when
// joining the multicast group for a named interface.
func InterfaceIndex(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}
