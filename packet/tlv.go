package packet

import (
	"bytes"
	"fmt"
	"net/netip"
)

// TLVType identifies a TLV's contents (§4.A).
type TLVType uint16

const (
	TLVParameters        TLVType = 0x0001
	TLVAuth              TLVType = 0x0002
	TLVSequence          TLVType = 0x0003
	TLVSoftwareVersion   TLVType = 0x0004
	TLVNextMulticastSeq  TLVType = 0x0005
	TLVPeerTermination   TLVType = 0x0007
	TLVIPv4Internal      TLVType = 0x0102
)

// tlvHeaderLength is the 2-byte type + 2-byte length that precedes every
// TLV's value.
const tlvHeaderLength = 4

// TLV is implemented by every recognized TLV body. Encode returns the full
// wire representation including the 4-byte type+length header, matching
// the teacher's openMessage.bytes()/notificationMessage.bytes() pattern of
// each message type owning its own serialization.
type TLV interface {
	Type() TLVType
	Encode() []byte
}

func encodeTLV(t TLVType, value []byte) []byte {
	buf := new(bytes.Buffer)
	putUint16(buf, uint16(t))
	putUint16(buf, uint16(tlvHeaderLength+len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func putUint16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func putUint32(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

// ParametersTLV carries the K-value vector and hold time used during
// neighbor discovery (§4.C: a Hello's K-values must match ours).
type ParametersTLV struct {
	K1, K2, K3, K4, K5 byte
	HoldTime           uint16
}

func (t ParametersTLV) Type() TLVType { return TLVParameters }

func (t ParametersTLV) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write([]byte{t.K1, t.K2, t.K3, t.K4, t.K5, 0})
	putUint16(buf, t.HoldTime)
	return encodeTLV(TLVParameters, buf.Bytes())
}

func decodeParametersTLV(v []byte) (ParametersTLV, error) {
	if len(v) < 8 {
		return ParametersTLV{}, fmt.Errorf("%w: PARAMETERS TLV too short", ErrMalformed)
	}
	return ParametersTLV{
		K1: v[0], K2: v[1], K3: v[2], K4: v[3], K5: v[4],
		HoldTime: uint16(v[6])<<8 | uint16(v[7]),
	}, nil
}

// AuthTLV carries the authentication digest (§4.A). Digest is either 16
// (MD5) or 32 (SHA-256) bytes.
type AuthTLV struct {
	AuthType    uint16
	KeyID       uint32
	KeySequence uint32
	Digest      []byte
}

func (t AuthTLV) Type() TLVType { return TLVAuth }

func (t AuthTLV) Encode() []byte {
	buf := new(bytes.Buffer)
	putUint16(buf, t.AuthType)
	putUint16(buf, uint16(len(t.Digest)))
	putUint32(buf, t.KeyID)
	putUint32(buf, t.KeySequence)
	buf.Write(make([]byte, 12))
	buf.Write(t.Digest)
	return encodeTLV(TLVAuth, buf.Bytes())
}

func decodeAuthTLV(v []byte) (AuthTLV, error) {
	if len(v) < 24 {
		return AuthTLV{}, fmt.Errorf("%w: AUTH TLV too short", ErrMalformed)
	}
	authType := uint16(v[0])<<8 | uint16(v[1])
	authLength := uint16(v[2])<<8 | uint16(v[3])
	keyID := beUint32(v[4:8])
	keySeq := beUint32(v[8:12])
	digest := v[24:]
	if int(authLength) > len(digest) {
		return AuthTLV{}, fmt.Errorf("%w: AUTH TLV digest shorter than declared length", ErrMalformed)
	}
	return AuthTLV{AuthType: authType, KeyID: keyID, KeySequence: keySeq, Digest: digest[:authLength]}, nil
}

// SequenceTLV lists addresses that must treat the following multicast as
// unicast (conditional receive, §4.A/§4.B).
type SequenceTLV struct {
	Addresses []netip.Addr
}

func (t SequenceTLV) Type() TLVType { return TLVSequence }

func (t SequenceTLV) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(len(t.Addresses) * 4))
	for _, a := range t.Addresses {
		a4 := a.As4()
		buf.Write(a4[:])
	}
	return encodeTLV(TLVSequence, buf.Bytes())
}

func decodeSequenceTLV(v []byte) (SequenceTLV, error) {
	if len(v) < 1 {
		return SequenceTLV{}, fmt.Errorf("%w: SEQUENCE TLV too short", ErrMalformed)
	}
	n := int(v[0])
	rest := v[1:]
	if n > len(rest) || n%4 != 0 {
		return SequenceTLV{}, fmt.Errorf("%w: SEQUENCE TLV bad address count", ErrMalformed)
	}
	out := SequenceTLV{}
	for i := 0; i < n; i += 4 {
		out.Addresses = append(out.Addresses, netip.AddrFrom4([4]byte(rest[i:i+4])))
	}
	return out, nil
}

// SoftwareVersionTLV advertises IOS and TLV format versions (§4.A).
type SoftwareVersionTLV struct {
	IOSMajor, IOSMinor byte
	TLVMajor, TLVMinor byte
}

func (t SoftwareVersionTLV) Type() TLVType { return TLVSoftwareVersion }

func (t SoftwareVersionTLV) Encode() []byte {
	return encodeTLV(TLVSoftwareVersion, []byte{t.IOSMajor, t.IOSMinor, t.TLVMajor, t.TLVMinor})
}

func decodeSoftwareVersionTLV(v []byte) (SoftwareVersionTLV, error) {
	if len(v) < 4 {
		return SoftwareVersionTLV{}, fmt.Errorf("%w: SW_VERSION TLV too short", ErrMalformed)
	}
	return SoftwareVersionTLV{IOSMajor: v[0], IOSMinor: v[1], TLVMajor: v[2], TLVMinor: v[3]}, nil
}

// NextMulticastSeqTLV announces the sequence number of the next multicast
// packet this speaker will send (§4.A).
type NextMulticastSeqTLV struct {
	Sequence uint32
}

func (t NextMulticastSeqTLV) Type() TLVType { return TLVNextMulticastSeq }

func (t NextMulticastSeqTLV) Encode() []byte {
	buf := new(bytes.Buffer)
	putUint32(buf, t.Sequence)
	return encodeTLV(TLVNextMulticastSeq, buf.Bytes())
}

func decodeNextMulticastSeqTLV(v []byte) (NextMulticastSeqTLV, error) {
	if len(v) < 4 {
		return NextMulticastSeqTLV{}, fmt.Errorf("%w: NEXT_MULTICAST_SEQ TLV too short", ErrMalformed)
	}
	return NextMulticastSeqTLV{Sequence: beUint32(v)}, nil
}

// PeerTerminationTLV announces a graceful shutdown of the adjacency
// (§4.A).
type PeerTerminationTLV struct {
	Reason byte
}

func (t PeerTerminationTLV) Type() TLVType { return TLVPeerTermination }

func (t PeerTerminationTLV) Encode() []byte {
	return encodeTLV(TLVPeerTermination, []byte{t.Reason})
}

func decodePeerTerminationTLV(v []byte) (PeerTerminationTLV, error) {
	if len(v) < 1 {
		return PeerTerminationTLV{}, fmt.Errorf("%w: PEER_TERMINATION TLV too short", ErrMalformed)
	}
	return PeerTerminationTLV{Reason: v[0]}, nil
}

// IPv4InternalTLV carries one internal IPv4 route and its composite-metric
// components (§4.A). NextHop of the zero address means "use the sender."
type IPv4InternalTLV struct {
	NextHop     netip.Addr
	Delay       uint32
	Bandwidth   uint32
	MTU         uint32 // 24-bit on the wire
	HopCount    byte
	Reliability byte
	Load        byte
	Tag         byte
	RouteFlags  byte
	Prefix      netip.Prefix
}

func (t IPv4InternalTLV) Type() TLVType { return TLVIPv4Internal }

func (t IPv4InternalTLV) Encode() []byte {
	buf := new(bytes.Buffer)
	nh := t.NextHop.As4()
	buf.Write(nh[:])
	putUint32(buf, t.Delay)
	putUint32(buf, t.Bandwidth)
	buf.WriteByte(byte(t.MTU >> 16))
	buf.WriteByte(byte(t.MTU >> 8))
	buf.WriteByte(byte(t.MTU))
	buf.WriteByte(t.HopCount)
	buf.WriteByte(t.Reliability)
	buf.WriteByte(t.Load)
	buf.WriteByte(t.Tag)
	buf.WriteByte(t.RouteFlags)
	prefixLen := t.Prefix.Bits()
	buf.WriteByte(byte(prefixLen))
	nbytes := (prefixLen + 7) / 8
	addr := t.Prefix.Addr().As4()
	// Per the Open Question resolution in SPEC_FULL.md §9: the source
	// does not reverse these bytes, so we encode the significant prefix
	// bytes most-significant-byte-first, same as a truncated net.IP.
	buf.Write(addr[:nbytes])
	return encodeTLV(TLVIPv4Internal, buf.Bytes())
}

const ipv4InternalFixedLength = 21 // bytes before the variable-length prefix

func decodeIPv4InternalTLV(v []byte) (IPv4InternalTLV, error) {
	if len(v) < ipv4InternalFixedLength {
		return IPv4InternalTLV{}, fmt.Errorf("%w: IPv4_INTERNAL TLV too short", ErrMalformed)
	}
	nextHop := netip.AddrFrom4([4]byte(v[0:4]))
	delay := beUint32(v[4:8])
	bw := beUint32(v[8:12])
	mtu := uint32(v[12])<<16 | uint32(v[13])<<8 | uint32(v[14])
	hopCount := v[15]
	reliability := v[16]
	load := v[17]
	tag := v[18]
	flags := v[19]
	prefixLen := int(v[20])
	if prefixLen > 32 {
		return IPv4InternalTLV{}, fmt.Errorf("%w: IPv4_INTERNAL TLV prefix length %d > 32", ErrMalformed, prefixLen)
	}
	nbytes := (prefixLen + 7) / 8
	rest := v[21:]
	if len(rest) < nbytes {
		return IPv4InternalTLV{}, fmt.Errorf("%w: IPv4_INTERNAL TLV prefix bytes truncated", ErrMalformed)
	}
	var addrBytes [4]byte
	copy(addrBytes[:], rest[:nbytes])
	prefix := netip.PrefixFrom(netip.AddrFrom4(addrBytes), prefixLen)
	return IPv4InternalTLV{
		NextHop: nextHop, Delay: delay, Bandwidth: bw, MTU: mtu,
		HopCount: hopCount, Reliability: reliability, Load: load, Tag: tag,
		RouteFlags: flags, Prefix: prefix.Masked(),
	}, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// DecodeTLVs walks the packet body and decodes each recognized TLV.
// Unrecognized TLV types are not decoded (per §4.A, only the listed types
// are "recognized"); their bytes are preserved as RawTLV so an encode/decode
// round trip is still lossless (§8).
func DecodeTLVs(body []byte) ([]TLV, error) {
	var out []TLV
	for len(body) > 0 {
		if len(body) < tlvHeaderLength {
			return nil, fmt.Errorf("%w: trailing bytes shorter than a TLV header", ErrMalformed)
		}
		t := TLVType(uint16(body[0])<<8 | uint16(body[1]))
		length := int(uint16(body[2])<<8 | uint16(body[3]))
		if length < tlvHeaderLength || length > len(body) {
			return nil, fmt.Errorf("%w: TLV length %d out of range", ErrMalformed, length)
		}
		value := body[tlvHeaderLength:length]
		tlv, err := decodeOne(t, value, body[:length])
		if err != nil {
			return nil, err
		}
		out = append(out, tlv)
		body = body[length:]
	}
	return out, nil
}

func decodeOne(t TLVType, value, raw []byte) (TLV, error) {
	switch t {
	case TLVParameters:
		return decodeParametersTLV(value)
	case TLVAuth:
		return decodeAuthTLV(value)
	case TLVSequence:
		return decodeSequenceTLV(value)
	case TLVSoftwareVersion:
		return decodeSoftwareVersionTLV(value)
	case TLVNextMulticastSeq:
		return decodeNextMulticastSeqTLV(value)
	case TLVPeerTermination:
		return decodePeerTerminationTLV(value)
	case TLVIPv4Internal:
		return decodeIPv4InternalTLV(value)
	default:
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return RawTLV{TLVType: t, Raw: cp}, nil
	}
}

// RawTLV preserves an unrecognized TLV's exact bytes so round-tripping a
// packet never silently drops data.
type RawTLV struct {
	TLVType TLVType
	Raw     []byte
}

func (t RawTLV) Type() TLVType { return t.TLVType }
func (t RawTLV) Encode() []byte {
	cp := make([]byte, len(t.Raw))
	copy(cp, t.Raw)
	return cp
}
