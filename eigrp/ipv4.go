package eigrp

import (
	"net/netip"

	"github.com/gsim047/eigrpd/internal/rawsock"
)

// wrapIPv4 prepends a minimal 20-byte IPv4 header to an EIGRP payload, for
// use with the IP_HDRINCL raw socket (§6). ttl is 1 for all EIGRP traffic
// except when explicitly overridden (there is currently no such case in
// this core).
func wrapIPv4(src, dst netip.Addr, payload []byte) []byte {
	out := make([]byte, 20+len(payload))
	total := len(out)

	out[0] = 0x45 // version 4, IHL 5
	out[1] = 0xC0 // DSCP matching the socket-level TOS set in rawsock.Open
	out[2] = byte(total >> 8)
	out[3] = byte(total)
	// out[4:6] identification left zero; no fragmentation expected for
	// EIGRP's small control packets.
	out[8] = 1 // TTL
	out[9] = rawsock.ProtocolEIGRP

	s4 := src.As4()
	d4 := dst.As4()
	copy(out[12:16], s4[:])
	copy(out[16:20], d4[:])

	sum := ipChecksum(out[:20])
	out[10] = byte(sum >> 8)
	out[11] = byte(sum)

	copy(out[20:], payload)
	return out
}

func ipChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// stripIPv4 validates and removes the IPv4 header from a datagram read off
// the raw socket, returning the EIGRP payload (§6: "incoming packets have
// the IP header stripped only after validation and length reconciliation
// against ip_len").
func stripIPv4(b []byte) ([]byte, error) {
	if len(b) < 20 {
		return nil, errShortIPHeader
	}
	ihl := int(b[0]&0x0F) * 4
	if ihl < 20 || len(b) < ihl {
		return nil, errShortIPHeader
	}
	total := int(b[2])<<8 | int(b[3])
	if total > len(b) {
		total = len(b)
	}
	return b[ihl:total], nil
}
