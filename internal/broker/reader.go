package broker

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/queue"
	"github.com/nugget/satcore/internal/shutdown"
	"github.com/nugget/satcore/internal/wire"
)

// errShutdown is returned internally by readExact when it gave up
// waiting because shutdown was requested, as distinct from any genuine
// transport failure.
var errShutdown = errors.New("reader: shutdown requested")

// Reader multiplexes reads across every connected satellite and enqueues
// decoded events for the router pool. Go's goroutines are cheap enough
// that the Reader's multiplexing is expressed as one supervised goroutine
// per satellite connection rather than a single thread polling a
// snapshot with select() — the scaling rationale for the latter (OS
// thread cost) does not apply to goroutines. The Reader still owns the
// entire read side as a single component: it polls the fleet every
// pollInterval and spawns a worker for each satellite that does not have
// one yet, and the worker is solely responsible
// for pruning its satellite from the fleet and subscription index on EOF
// or decode error. Every worker's blocking read is bounded by a deadline
// no longer than spec.md's 500ms ceiling, so shutdown is observed
// promptly even on an idle connection.
type Reader struct {
	sats *fleet.Set
	subs *fleet.Index
	q    *queue.Queue
	sf   *shutdown.Flag

	timeout time.Duration
	logger  *slog.Logger
	hooks   *Hooks

	pollInterval time.Duration

	mu      sync.Mutex
	workers map[*fleet.Handle]struct{}
	wg      sync.WaitGroup

	done chan struct{}
}

// NewReader builds a Reader over the shared fleet, subscription index,
// and event queue.
func NewReader(sats *fleet.Set, subs *fleet.Index, q *queue.Queue, sf *shutdown.Flag, logger *slog.Logger, hooks *Hooks) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		sats:         sats,
		subs:         subs,
		q:            q,
		sf:           sf,
		timeout:      defaultPollTimeout,
		pollInterval: defaultPollTimeout,
		logger:       logger,
		hooks:        hooks,
		workers:      make(map[*fleet.Handle]struct{}),
		done:         make(chan struct{}),
	}
}

// Done is closed once every per-satellite worker has exited following
// shutdown.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Run spawns a worker for every satellite currently in the fleet, and
// for every new arrival, until shutdown is requested. It then waits for
// all outstanding workers to exit before returning.
func (r *Reader) Run() {
	defer close(r.done)
	for !r.sf.IsSet() {
		r.syncWorkers()
		time.Sleep(r.pollInterval)
	}
	r.wg.Wait()
}

// syncWorkers spawns a worker goroutine for every satellite in the
// current fleet snapshot that doesn't already have one.
func (r *Reader) syncWorkers() {
	for _, h := range r.sats.Snapshot() {
		r.mu.Lock()
		_, exists := r.workers[h]
		if !exists {
			r.workers[h] = struct{}{}
			r.wg.Add(1)
			go r.serve(h)
		}
		r.mu.Unlock()
	}
}

// serve is the per-satellite read loop: header, payload, decode, enqueue.
func (r *Reader) serve(h *fleet.Handle) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.workers, h)
		r.mu.Unlock()
	}()

	for {
		var header [wire.HeaderLen]byte
		if err := r.readExact(h.Conn(), header[:]); err != nil {
			switch {
			case errors.Is(err, errShutdown):
				return
			case errors.Is(err, io.EOF):
				r.removeSatellite(h, "eof")
			default:
				r.logger.Warn("reader: header read error", "satellite_id", h.ID, "error", err)
				r.removeSatellite(h, "read_error")
			}
			return
		}

		length := wire.ParseHeader(header[:])
		payload := make([]byte, length)
		if length > 0 {
			if err := r.readExact(h.Conn(), payload); err != nil {
				if errors.Is(err, errShutdown) {
					return
				}
				r.logger.Warn("reader: payload read error", "satellite_id", h.ID, "error", err)
				r.removeSatellite(h, "read_error")
				return
			}
		}

		ev, err := wire.Decode(payload)
		if err != nil {
			r.logger.Warn("reader: decode error", "satellite_id", h.ID, "error", err)
			r.removeSatellite(h, "format_error")
			return
		}

		r.q.PushBatch([]queue.ReceivedEvent{{Event: ev, Source: h}})
	}
}

// readExact reads exactly len(buf) bytes, resetting the read deadline on
// every attempt so no single blocking call can exceed the poll timeout.
// A timeout with zero bytes accumulated and shutdown requested returns
// errShutdown; a timeout with zero bytes accumulated and shutdown NOT
// requested is simply retried (this is the bounded-wait mechanism by
// which an idle worker still notices shutdown promptly). A timeout after
// some bytes of buf have already been consumed is always retried
// regardless of shutdown state, since those bytes cannot be un-read from
// the stream and abandoning them would desynchronize framing for the rest
// of the connection's lifetime. The count starts again at zero for each
// call, so the payload read that follows a complete header still returns
// errShutdown on a timeout before its first byte once shutdown is
// requested.
func (r *Reader) readExact(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		_ = conn.SetReadDeadline(time.Now().Add(r.timeout))
		n, err := conn.Read(buf[total:])
		total += n
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if total == 0 && r.sf.IsSet() {
				return errShutdown
			}
			continue
		}
		if total == 0 && errors.Is(err, io.EOF) {
			return io.EOF
		}
		return err
	}
	return nil
}

// removeSatellite prunes h from the fleet and every subscription list,
// per invariant 1 and 7 in spec.md §3/§8.
func (r *Reader) removeSatellite(h *fleet.Handle, reason string) {
	r.sats.Remove(h)
	r.subs.Prune(h)
	_ = h.Close()
	r.logger.Info("satellite left", "satellite_id", h.ID, "reason", reason)
	r.hooks.emit(FleetEvent{Kind: KindLeft, SatelliteID: h.ID, Reason: reason})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
