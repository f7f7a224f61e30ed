// Package wire implements the length-prefixed event codec shared by every
// satellite connection. Encoding and decoding are pure: no I/O, no locking,
// no knowledge of sockets. The separate 4-byte length header that precedes
// an encoded event on the transport is encoded and parsed by frame.go; the
// socket reads and writes that use it live in the broker package.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Table-of-contents bits.
const (
	flagRecipient  = 1 << 0
	flagType       = 1 << 1
	flagProperties = 1 << 2
)

// CurrentMajor and CurrentMinor are the version fields Encode writes.
const (
	CurrentMajor byte = 0
	CurrentMinor byte = 1
)

const maxFieldLen = 1<<32 - 1

// FormatError reports a malformed or truncated wire payload. The Reader
// treats it as non-fatal: the offending satellite handle is removed, the
// rest of the fleet is unaffected.
type FormatError struct {
	reason string
}

func (e *FormatError) Error() string { return "wire: " + e.reason }

func newFormatError(format string, args ...any) error {
	return &FormatError{reason: fmt.Sprintf(format, args...)}
}

// Event is an immutable (by convention — callers must not mutate slices or
// maps after constructing one) triple of optional recipient, optional
// type, and optional properties, plus the version tag it was built or
// decoded with.
//
// A nil Recipient/Type means the field is absent from the table of
// contents, not merely zero-length. A nil Properties map is likewise
// absent; an empty, non-nil map is present-but-empty.
type Event struct {
	Major      byte
	Minor      byte
	Recipient  []byte
	Type       []byte
	Properties map[string][]byte
}

// NewEvent builds an Event tagged with the current wire version.
func NewEvent(recipient, typ []byte, properties map[string][]byte) Event {
	return Event{
		Major:      CurrentMajor,
		Minor:      CurrentMinor,
		Recipient:  recipient,
		Type:       typ,
		Properties: properties,
	}
}

// Encode serializes an event to its wire representation. It refuses any
// field that was, despite the type system, never actually populated with
// raw bytes — in Go this only arises from the properties map carrying a
// nil value, which Encode rejects rather than silently writing as empty.
func Encode(e Event) ([]byte, error) {
	toc := byte(0)
	if e.Recipient != nil {
		toc |= flagRecipient
	}
	if e.Type != nil {
		toc |= flagType
	}
	if e.Properties != nil {
		toc |= flagProperties
	}

	out := make([]byte, 0, 3+len(e.Recipient)+len(e.Type)+propertiesSizeHint(e.Properties))
	out = append(out, e.Major, e.Minor, toc)

	if toc&flagRecipient != 0 {
		out = appendField(out, e.Recipient)
	}
	if toc&flagType != 0 {
		out = appendField(out, e.Type)
	}
	if toc&flagProperties != 0 {
		out = appendUint32(out, saturate(len(e.Properties)))
		for key, val := range e.Properties {
			if val == nil {
				return nil, fmt.Errorf("wire: property %q has nil value", key)
			}
			out = appendField(out, []byte(key))
			out = appendField(out, val)
		}
	}
	return out, nil
}

// Decode parses the wire representation of a single event. It is strict:
// any truncation is a *FormatError.
func Decode(data []byte) (Event, error) {
	if len(data) < 3 {
		return Event{}, newFormatError("input too short: %d bytes", len(data))
	}
	var e Event
	e.Major, e.Minor, data = data[0], data[1], data[2:]
	toc := data[0]
	data = data[1:]

	if toc&flagRecipient != 0 {
		var err error
		e.Recipient, data, err = readField(data)
		if err != nil {
			return Event{}, err
		}
	}
	if toc&flagType != 0 {
		var err error
		e.Type, data, err = readField(data)
		if err != nil {
			return Event{}, err
		}
	}
	if toc&flagProperties != 0 {
		count, rest, err := readUint32(data)
		if err != nil {
			return Event{}, err
		}
		data = rest
		props := make(map[string][]byte, count)
		for i := uint32(0); i < count; i++ {
			var key, val []byte
			key, data, err = readField(data)
			if err != nil {
				return Event{}, err
			}
			val, data, err = readField(data)
			if err != nil {
				return Event{}, err
			}
			props[string(key)] = val
		}
		e.Properties = props
	}
	return e, nil
}

func appendField(out []byte, field []byte) []byte {
	n := saturate(len(field))
	out = appendUint32(out, n)
	return append(out, field[:n]...)
}

func appendUint32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, newFormatError("truncated length field: %d bytes remaining", len(data))
	}
	return binary.LittleEndian.Uint32(data[:4]), data[4:], nil
}

func readField(data []byte) ([]byte, []byte, error) {
	length, rest, err := readUint32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(length) {
		return nil, nil, newFormatError("truncated field: want %d bytes, have %d", length, len(rest))
	}
	field := make([]byte, length)
	copy(field, rest[:length])
	return field, rest[length:], nil
}

func saturate(n int) uint32 {
	if n > maxFieldLen {
		return maxFieldLen
	}
	return uint32(n)
}

func propertiesSizeHint(props map[string][]byte) int {
	hint := 4
	for k, v := range props {
		hint += 8 + len(k) + len(v)
	}
	return hint
}
