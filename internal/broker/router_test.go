package broker

import (
	"net"
	"testing"
	"time"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/queue"
	"github.com/nugget/satcore/internal/shutdown"
	"github.com/nugget/satcore/internal/wire"
)

func newTestHandle(t *testing.T) (*fleet.Handle, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return fleet.NewHandle(server), client
}

func newTestRouter() (*Router, *fleet.Set, *fleet.Index, *queue.Queue) {
	sats := fleet.NewSet()
	subs := fleet.NewIndex()
	q := queue.New()
	sf := &shutdown.Flag{}
	r := NewRouter(0, sats, subs, q, sf, nil, nil)
	return r, sats, subs, q
}

func TestHandleControlRegisterIsCaseFolded(t *testing.T) {
	r, sats, subs, _ := newTestRouter()
	h, _ := newTestHandle(t)
	sats.Insert(h)

	for _, outer := range []string{"register", "REGISTER", "Register"} {
		rec := queue.ReceivedEvent{
			Event:  wire.NewEvent(nil, []byte(outer), map[string][]byte{"type": []byte("temp")}),
			Source: h,
		}
		r.route(rec)
	}

	subscribers := subs.Subscribers("temp")
	if len(subscribers) != 1 {
		t.Fatalf("Subscribers(temp) = %d entries, want 1 (register must be idempotent and case-insensitive)", len(subscribers))
	}
	if subscribers[0] != h {
		t.Errorf("subscriber = %v, want %v", subscribers[0], h)
	}
}

func TestHandleControlMissingPropertiesDropped(t *testing.T) {
	r, _, subs, _ := newTestRouter()
	h, _ := newTestHandle(t)

	r.route(queue.ReceivedEvent{Event: wire.NewEvent(nil, []byte("register"), nil), Source: h})
	if got := len(subs.Subscribers("temp")); got != 0 {
		t.Errorf("Subscribers(temp) = %d, want 0 after control event with nil properties", got)
	}

	r.route(queue.ReceivedEvent{
		Event:  wire.NewEvent(nil, []byte("register"), map[string][]byte{"other": []byte("x")}),
		Source: h,
	})
	for _, evType := range []string{"temp", "x", fleet.All} {
		if got := subs.Subscribers(evType); containsHandle(got, h) {
			t.Errorf("satellite registered for %q despite missing type property", evType)
		}
	}
}

func TestUnregisterRemovesSubscription(t *testing.T) {
	r, _, subs, _ := newTestRouter()
	h, _ := newTestHandle(t)

	subs.Register(h, "temp")
	r.route(queue.ReceivedEvent{
		Event:  wire.NewEvent(nil, []byte("unregister"), map[string][]byte{"type": []byte("temp")}),
		Source: h,
	})
	if got := subs.Subscribers("temp"); containsHandle(got, h) {
		t.Errorf("satellite still subscribed to temp after unregister")
	}
}

func TestDataEventDedupesAllAndTypeSubscribers(t *testing.T) {
	r, sats, subs, _ := newTestRouter()
	a, aConn := newTestHandle(t)
	sats.Insert(a)
	subs.Register(a, fleet.All)
	subs.Register(a, "temp")

	received := make(chan wire.Event, 1)
	go func() {
		var header [wire.HeaderLen]byte
		if _, err := readFullTest(aConn, header[:]); err != nil {
			return
		}
		n := wire.ParseHeader(header[:])
		payload := make([]byte, n)
		if _, err := readFullTest(aConn, payload); err != nil {
			return
		}
		ev, err := wire.Decode(payload)
		if err != nil {
			return
		}
		received <- ev
	}()

	r.route(queue.ReceivedEvent{
		Event:  wire.NewEvent(nil, []byte("temp"), map[string][]byte{"v": []byte("23")}),
		Source: nil,
	})

	select {
	case ev := <-received:
		if string(ev.Type) != "temp" {
			t.Errorf("Type = %q, want temp", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber present in both all and temp never received a delivery")
	}

	select {
	case <-received:
		t.Fatal("received a second delivery: want exactly one copy for a dual subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDataEventNoTypeReachesOnlyAllSubscribers(t *testing.T) {
	r, sats, subs, _ := newTestRouter()
	a, aConn := newTestHandle(t)
	sats.Insert(a)
	subs.Register(a, fleet.All)

	b, bConn := newTestHandle(t)
	sats.Insert(b)
	subs.Register(b, "motion")

	received := make(chan wire.Event, 1)
	go func() {
		var header [wire.HeaderLen]byte
		if _, err := readFullTest(aConn, header[:]); err != nil {
			return
		}
		payload := make([]byte, wire.ParseHeader(header[:]))
		if _, err := readFullTest(aConn, payload); err != nil {
			return
		}
		ev, err := wire.Decode(payload)
		if err != nil {
			return
		}
		received <- ev
	}()
	bGotFrame := make(chan struct{}, 1)
	go func() {
		var header [wire.HeaderLen]byte
		if _, err := bConn.Read(header[:]); err == nil {
			bGotFrame <- struct{}{}
		}
	}()

	// No type on the event: only "all" subscribers are eligible.
	r.route(queue.ReceivedEvent{Event: wire.NewEvent(nil, nil, nil), Source: nil})

	select {
	case ev := <-received:
		if ev.Type != nil {
			t.Errorf("Type = %q, want absent", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("\"all\" subscriber never received the untyped event")
	}

	select {
	case <-bGotFrame:
		t.Fatal("type-specific subscriber received an untyped event")
	case <-time.After(50 * time.Millisecond):
	}
}

func readFullTest(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func containsHandle(list []*fleet.Handle, h *fleet.Handle) bool {
	for _, s := range list {
		if s == h {
			return true
		}
	}
	return false
}
