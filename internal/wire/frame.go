package wire

import "encoding/binary"

// HeaderLen is the size of the frame-length header that precedes an
// encoded event on the wire.
const HeaderLen = 4

// PutHeader encodes a frame length as the 4-byte little-endian header
// that precedes an event's encoded bytes on the transport.
func PutHeader(n int) [HeaderLen]byte {
	var b [HeaderLen]byte
	binary.LittleEndian.PutUint32(b[:], saturate(n))
	return b
}

// ParseHeader decodes a 4-byte little-endian frame-length header.
func ParseHeader(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}
