package broker

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/shutdown"
)

// defaultPollTimeout bounds every suspension point in the acceptor,
// reader, and router pool so the shutdown flag is observed within one
// tick. spec.md requires this to be no more than 500ms.
const defaultPollTimeout = 250 * time.Millisecond

// Acceptor brings new satellites into the fleet. It loops on the public
// listener with a bounded-timeout accept so it can observe the shutdown
// flag, and performs no handshake or authentication — a satellite is a
// fleet member the instant its TCP connection is accepted.
type Acceptor struct {
	listener net.Listener
	sats     *fleet.Set
	sf       *shutdown.Flag
	timeout  time.Duration
	logger   *slog.Logger
	hooks    *Hooks

	done chan struct{}
}

// NewAcceptor builds an Acceptor over an already-bound, already-listening
// socket.
func NewAcceptor(listener net.Listener, sats *fleet.Set, sf *shutdown.Flag, logger *slog.Logger, hooks *Hooks) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acceptor{
		listener: listener,
		sats:     sats,
		sf:       sf,
		timeout:  defaultPollTimeout,
		logger:   logger,
		hooks:    hooks,
		done:     make(chan struct{}),
	}
}

// Done is closed once Run has returned.
func (a *Acceptor) Done() <-chan struct{} { return a.done }

// Run accepts connections until shutdown is requested or the listener is
// closed out from under it.
func (a *Acceptor) Run() {
	defer close(a.done)
	for !a.sf.IsSet() {
		if !a.runLoop() {
			return
		}
	}
}

// runLoop performs one bounded-timeout accept. It returns false if the
// listener error was terminal (the listener is closed), true otherwise —
// including on a timeout, which is simply the mechanism by which this
// loop re-checks the shutdown flag.
func (a *Acceptor) runLoop() bool {
	if dl, ok := a.listener.(interface{ SetDeadline(time.Time) error }); ok {
		_ = dl.SetDeadline(time.Now().Add(a.timeout))
	}

	conn, err := a.listener.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return true
		}
		if errors.Is(err, net.ErrClosed) {
			a.logger.Info("acceptor: listener closed, exiting")
			return false
		}
		// Transient accept error (e.g. an interrupted system call surfaced
		// by the runtime poller): log and retry.
		a.logger.Warn("acceptor: transient accept error", "error", err)
		return true
	}

	handle := fleet.NewHandle(conn)
	a.sats.Insert(handle)
	a.logger.Info("satellite joined", "satellite_id", handle.ID, "peer", handle.Addr)
	a.hooks.emit(FleetEvent{Kind: KindJoined, SatelliteID: handle.ID, PeerAddr: handle.Addr.String()})
	return true
}
