// Package stream provides small helpers for reading fixed-width fields out
// of a byte buffer, used by the packet codec to decode the EIGRP header and
// its TLVs.
package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReadBytes reads n bytes from buf. It returns an error instead of panicking
// so callers can turn a short packet into a MalformedPacket condition.
func ReadBytes(n int, buf *bytes.Buffer) ([]byte, error) {
	if buf.Len() < n {
		return nil, fmt.Errorf("stream: need %d bytes, have %d", n, buf.Len())
	}
	b := make([]byte, n)
	if _, err := buf.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadByte reads a single byte off buf.
func ReadByte(buf *bytes.Buffer) (byte, error) {
	b, err := ReadBytes(1, buf)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads 2 bytes off buf as a big-endian uint16.
func ReadUint16(buf *bytes.Buffer) (uint16, error) {
	b, err := ReadBytes(2, buf)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint32 reads 4 bytes off buf as a big-endian uint32.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	b, err := ReadBytes(4, buf)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// PutUint16 appends v to buf in big-endian order.
func PutUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// PutUint32 appends v to buf in big-endian order.
func PutUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
