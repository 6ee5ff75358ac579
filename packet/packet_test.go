package packet

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:         Version,
		Opcode:          OpcodeHello,
		Flags:           FlagInit | FlagEOT,
		Sequence:        42,
		Ack:             7,
		VirtualRouterID: 0,
		ASNumber:        100,
	}
	got, err := DecodeHeader(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestParametersTLVRoundTrip(t *testing.T) {
	want := ParametersTLV{K1: 1, K2: 0, K3: 1, K4: 0, K5: 0, HoldTime: 15}
	tlvs, err := DecodeTLVs(want.Encode())
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	require.Equal(t, want, tlvs[0])
}

func TestIPv4InternalTLVRoundTrip(t *testing.T) {
	want := IPv4InternalTLV{
		NextHop:     netip.MustParseAddr("0.0.0.0"),
		Delay:       10,
		Bandwidth:   100000,
		MTU:         1500,
		HopCount:    1,
		Reliability: 255,
		Load:        1,
		Tag:         0,
		RouteFlags:  0,
		Prefix:      netip.MustParsePrefix("10.0.0.0/24"),
	}
	tlvs, err := DecodeTLVs(want.Encode())
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	require.Equal(t, want, tlvs[0])
}

func TestIPv4InternalTLVDefaultRoute(t *testing.T) {
	want := IPv4InternalTLV{
		NextHop: netip.MustParseAddr("1.1.1.1"),
		Prefix:  netip.MustParsePrefix("0.0.0.0/0"),
	}
	tlvs, err := DecodeTLVs(want.Encode())
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	require.Equal(t, want, tlvs[0])
}

func TestIPv4InternalTLVHostRoute(t *testing.T) {
	want := IPv4InternalTLV{
		NextHop: netip.MustParseAddr("1.1.1.1"),
		Prefix:  netip.MustParsePrefix("10.0.0.5/32"),
	}
	tlvs, err := DecodeTLVs(want.Encode())
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	require.Equal(t, want, tlvs[0])
}

func TestChecksumDetectsCorruption(t *testing.T) {
	p := &Packet{
		Header: Header{Version: Version, Opcode: OpcodeHello, ASNumber: 1},
		TLVs:   []TLV{ParametersTLV{K1: 1, K3: 1, HoldTime: 15}},
	}
	b := p.Encode()
	require.NoError(t, VerifyChecksum(b))

	corrupt := make([]byte, len(b))
	copy(corrupt, b)
	corrupt[len(corrupt)-1] ^= 0xFF
	require.Error(t, VerifyChecksum(corrupt))
}

func TestRawTLVPreservesUnknownType(t *testing.T) {
	raw := encodeTLV(0x9999, []byte{1, 2, 3, 4})
	tlvs, err := DecodeTLVs(raw)
	require.NoError(t, err)
	require.Len(t, tlvs, 1)
	rawTLV, ok := tlvs[0].(RawTLV)
	require.True(t, ok)
	require.Equal(t, raw, rawTLV.Encode())
}

func TestAuthMD5SignVerify(t *testing.T) {
	key := []byte("sharedsecret")
	h := Header{Version: Version, Opcode: OpcodeUpdate, ASNumber: 1}
	auth := AuthTLV{AuthType: AuthTypeForKind(AuthMD5), KeyID: 1, KeySequence: 1, Digest: make([]byte, AuthMD5.DigestLength())}
	rest := []TLV{ParametersTLV{K1: 1, K3: 1, HoldTime: 15}}

	encoded := EncodeSigned(h, auth, rest, ModeBasicHelloOrUpdate, key)
	require.NoError(t, VerifyChecksum(encoded))

	pkt, err := Decode(encoded)
	require.NoError(t, err)
	signedAuth, ok := pkt.Auth()
	require.True(t, ok)

	// The digest is computed with the checksum and digest fields zeroed, so
	// verification rebuilds that view of the header and AUTH TLV.
	headerAndAuth := make([]byte, HeaderLength+len(signedAuth.Encode()))
	copy(headerAndAuth, encoded)
	headerAndAuth[2], headerAndAuth[3] = 0, 0
	zeroed := signedAuth
	zeroed.Digest = make([]byte, len(signedAuth.Digest))
	copy(headerAndAuth[HeaderLength:], zeroed.Encode())
	bodyAfter := encoded[HeaderLength+len(signedAuth.Encode()):]
	require.True(t, Verify(AuthMD5, ModeBasicHelloOrUpdate, key, headerAndAuth, bodyAfter, signedAuth.Digest))
	require.False(t, Verify(AuthMD5, ModeBasicHelloOrUpdate, []byte("wrongkey"), headerAndAuth, bodyAfter, signedAuth.Digest))
}

func TestAuthSHA256SignVerify(t *testing.T) {
	key := []byte("sharedsecret")
	h := Header{Version: Version, Opcode: OpcodeUpdate, ASNumber: 1}
	auth := AuthTLV{AuthType: AuthTypeForKind(AuthSHA256), KeyID: 1, KeySequence: 1, Digest: make([]byte, AuthSHA256.DigestLength())}
	rest := []TLV{ParametersTLV{K1: 1, K3: 1, HoldTime: 15}}

	encoded := EncodeSigned(h, auth, rest, ModeBasicHelloOrUpdate, key)
	pkt, err := Decode(encoded)
	require.NoError(t, err)
	signedAuth, ok := pkt.Auth()
	require.True(t, ok)
	require.Len(t, signedAuth.Digest, AuthSHA256.DigestLength())

	headerAndAuth := make([]byte, HeaderLength+len(signedAuth.Encode()))
	copy(headerAndAuth, encoded)
	headerAndAuth[2], headerAndAuth[3] = 0, 0
	zeroed := signedAuth
	zeroed.Digest = make([]byte, len(signedAuth.Digest))
	copy(headerAndAuth[HeaderLength:], zeroed.Encode())
	bodyAfter := encoded[HeaderLength+len(signedAuth.Encode()):]
	require.True(t, Verify(AuthSHA256, ModeBasicHelloOrUpdate, key, headerAndAuth, bodyAfter, signedAuth.Digest))
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsBadTLVLength(t *testing.T) {
	h := Header{Version: Version, Opcode: OpcodeHello}
	b := h.Encode()
	b = append(b, 0x00, 0x01, 0xFF, 0xFF) // type 1, absurd length
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrMalformed)
}
