package packet

import (
	"bytes"
	"fmt"
)

// Packet is a decoded EIGRP packet: header plus TLV stream (§4.A).
type Packet struct {
	Header Header
	TLVs   []TLV
}

// Auth returns the packet's AUTH TLV, if present. §4.A requires it to be
// the first TLV when authentication is in use; EncodeSigned places it
// there, and Auth only looks at the first TLV. Decode does not check the
// placement, so an AUTH TLV elsewhere in the body is not returned here.
func (p *Packet) Auth() (AuthTLV, bool) {
	if len(p.TLVs) == 0 {
		return AuthTLV{}, false
	}
	if a, ok := p.TLVs[0].(AuthTLV); ok {
		return a, true
	}
	return AuthTLV{}, false
}

// Encode serializes the packet, computing and filling in the checksum.
// If the packet's first TLV is an AuthTLV with a zero-length Digest, the
// caller is expected to have already called Sign separately (see
// EncodeSigned) — plain Encode is for unauthenticated packets (§4.A, no
// authentication configured on the interface).
func (p *Packet) Encode() []byte {
	body := new(bytes.Buffer)
	for _, t := range p.TLVs {
		body.Write(t.Encode())
	}

	h := p.Header
	h.Checksum = 0
	buf := new(bytes.Buffer)
	buf.Write(h.Encode())
	buf.Write(body.Bytes())

	sum := Checksum(buf.Bytes())
	out := buf.Bytes()
	out[2] = byte(sum >> 8)
	out[3] = byte(sum)
	return out
}

// EncodeSigned serializes the packet with authentication: it builds the
// AUTH TLV with a zero digest, computes the digest per §4.A over the
// header+auth and the remaining body, fills in the digest, then computes
// the checksum over the whole thing (checksum is computed last, same as
// plain Encode, since digest computation explicitly zeroes the checksum
// field as part of "header+authTLV-with-zero-digest").
func EncodeSigned(h Header, auth AuthTLV, rest []TLV, mode AuthMode, key []byte) []byte {
	auth.Digest = make([]byte, len(auth.Digest))
	h.Checksum = 0

	headerAndZeroAuth := new(bytes.Buffer)
	headerAndZeroAuth.Write(h.Encode())
	headerAndZeroAuth.Write(auth.Encode())

	bodyAfter := new(bytes.Buffer)
	for _, t := range rest {
		bodyAfter.Write(t.Encode())
	}

	kind := KindForAuthType(auth.AuthType)
	digest := Sign(kind, mode, key, headerAndZeroAuth.Bytes(), bodyAfter.Bytes())
	auth.Digest = digest

	full := new(bytes.Buffer)
	full.Write(h.Encode())
	full.Write(auth.Encode())
	full.Write(bodyAfter.Bytes())

	sum := Checksum(full.Bytes())
	out := full.Bytes()
	out[2] = byte(sum >> 8)
	out[3] = byte(sum)
	return out
}

// Decode parses a full EIGRP packet, including header and TLV stream.
// It does not verify authentication or checksum; callers do that via
// VerifyChecksum and Verify so MalformedPacket and AuthFailure stay
// distinguishable dispositions (§7).
func Decode(b []byte) (*Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	tlvs, err := DecodeTLVs(b[HeaderLength:])
	if err != nil {
		return nil, err
	}
	return &Packet{Header: h, TLVs: tlvs}, nil
}

// VerifyChecksum recomputes the checksum over b (with its checksum field
// zeroed) and compares against the value carried in the header.
func VerifyChecksum(b []byte) error {
	if len(b) < HeaderLength {
		return fmt.Errorf("%w: short packet", ErrMalformed)
	}
	want := uint16(b[2])<<8 | uint16(b[3])
	cp := make([]byte, len(b))
	copy(cp, b)
	cp[2], cp[3] = 0, 0
	got := Checksum(cp)
	if got != want {
		return fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}
	return nil
}
