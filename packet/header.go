// Package packet implements the EIGRP wire format: the fixed 20-byte
// header, the TLV body, the Internet checksum, and the MD5/SHA-256
// authenticator. It is grounded in the teacher's message package
// (message/open.go, message/notification.go, message/keepalive.go), which
// pairs a struct per message type with bytes()/readX() functions built on
// top of internal/stream's buffer helpers.
package packet

import (
	"bytes"
	"fmt"

	"github.com/gsim047/eigrpd/internal/stream"
)

// Opcode identifies the kind of EIGRP packet (§4.A).
type Opcode byte

const (
	OpcodeUpdate   Opcode = 1
	OpcodeRequest  Opcode = 2
	OpcodeQuery    Opcode = 3
	OpcodeReply    Opcode = 4
	OpcodeHello    Opcode = 5
	OpcodeProbe    Opcode = 7
	OpcodeAck      Opcode = 8
	OpcodeSIAQuery Opcode = 10
	OpcodeSIAReply Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpcodeUpdate:
		return "UPDATE"
	case OpcodeRequest:
		return "REQUEST"
	case OpcodeQuery:
		return "QUERY"
	case OpcodeReply:
		return "REPLY"
	case OpcodeHello:
		return "HELLO"
	case OpcodeProbe:
		return "PROBE"
	case OpcodeAck:
		return "ACK"
	case OpcodeSIAQuery:
		return "SIAQUERY"
	case OpcodeSIAReply:
		return "SIAREPLY"
	default:
		return fmt.Sprintf("OPCODE(%d)", byte(o))
	}
}

// Flags is the 32-bit header flags field (§4.A).
type Flags uint32

const (
	FlagInit Flags = 0x01
	FlagCR   Flags = 0x02
	FlagRS   Flags = 0x04
	FlagEOT  Flags = 0x08
)

func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// Version is the only EIGRP header version this codec speaks.
const Version = 2

// HeaderLength is the fixed size of the EIGRP header in bytes.
const HeaderLength = 20

// Header is the fixed 20-byte EIGRP packet header.
type Header struct {
	Version         byte
	Opcode          Opcode
	Checksum        uint16
	Flags           Flags
	Sequence        uint32
	Ack             uint32
	VirtualRouterID uint16
	ASNumber        uint16
}

// Encode writes the header in wire format.
func (h Header) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(h.Version)
	buf.WriteByte(byte(h.Opcode))
	stream.PutUint16(buf, h.Checksum)
	stream.PutUint32(buf, uint32(h.Flags))
	stream.PutUint32(buf, h.Sequence)
	stream.PutUint32(buf, h.Ack)
	stream.PutUint16(buf, h.VirtualRouterID)
	stream.PutUint16(buf, h.ASNumber)
	return buf.Bytes()
}

// DecodeHeader parses the fixed header off the front of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLength {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrMalformed, HeaderLength, len(b))
	}
	buf := bytes.NewBuffer(b[:HeaderLength])
	version, _ := stream.ReadByte(buf)
	opcode, _ := stream.ReadByte(buf)
	checksum, _ := stream.ReadUint16(buf)
	flags, _ := stream.ReadUint32(buf)
	seq, _ := stream.ReadUint32(buf)
	ack, _ := stream.ReadUint32(buf)
	vrid, _ := stream.ReadUint16(buf)
	asNumber, _ := stream.ReadUint16(buf)

	h := Header{
		Version:         version,
		Opcode:          Opcode(opcode),
		Checksum:        checksum,
		Flags:           Flags(flags),
		Sequence:        seq,
		Ack:             ack,
		VirtualRouterID: vrid,
		ASNumber:        asNumber,
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.Version)
	}
	return h, nil
}
