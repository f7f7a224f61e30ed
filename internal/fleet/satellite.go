// Package fleet holds the broker's shared data model: the satellite set
// (fleet membership) and the subscription index. Both are guarded data
// structures — every read-modify-write and every iteration that must
// observe a stable snapshot happens under the structure's own lock — and
// are jointly observed by the acceptor, reader, and router pool.
package fleet

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Handle is one connected satellite. It is created by the acceptor on
// accept and removed from the fleet when the reader observes EOF, a
// decode error, or a router observes a failed send. The handle itself is
// jointly observed by the reader and router pool but its lifecycle
// (insertion/removal from the satellite set) is owned by the satellite
// set's lock, not by the handle.
type Handle struct {
	// ID is a process-local identifier used for logging and the fleet
	// observer feed. It has no meaning on the wire.
	ID string
	// Addr is the peer address captured at accept time.
	Addr net.Addr

	conn net.Conn

	// sendMu serializes whole-frame writes to this satellite's socket.
	// Multiple routers may be delivering to the same recipient
	// concurrently on different goroutines; holding this lock for the
	// duration of one send ensures a full frame is written without
	// interleaving from a concurrent sender, per spec.md §4.5's tie-break
	// note on concurrent delivery.
	sendMu sync.Mutex
}

// NewHandle wraps an accepted connection as a fleet handle.
func NewHandle(conn net.Conn) *Handle {
	return &Handle{
		ID:   uuid.NewString(),
		Addr: conn.RemoteAddr(),
		conn: conn,
	}
}

// Conn returns the underlying connection. Reads belong exclusively to the
// reader; writes must go through Send so concurrent routers don't
// interleave partial frames.
func (h *Handle) Conn() net.Conn { return h.conn }

// Send writes a length-prefixed frame to the satellite, holding the
// handle's send lock for the whole write so a concurrent sender can never
// interleave bytes mid-frame.
func (h *Handle) Send(header [4]byte, payload []byte) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	if _, err := h.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := h.conn.Write(payload)
	return err
}

// Close closes the underlying connection. Safe to call more than once.
func (h *Handle) Close() error {
	return h.conn.Close()
}
