// Package broker assembles the acceptor, reader, and router pool around
// the shared fleet and subscription index into a single Core whose
// lifecycle (start, shutdown, restart) is managed by a small state
// machine: Clean -> Running -> Clean, with a terminal Unclean reached if
// shutdown fails to join every worker.
package broker

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/queue"
	"github.com/nugget/satcore/internal/shutdown"
)

// DefaultPort is the Core's default satellite listen port.
const DefaultPort = 51100

// DefaultRouterCount is the default size of the router pool.
const DefaultRouterCount = 4

const (
	shutdownGrace = 900 * time.Millisecond
	joinTimeout   = 500 * time.Millisecond
)

// Config configures a Core. Address is the interface to bind; empty
// means all interfaces, the same convention net.Listen itself uses. Port
// 0 binds an OS-assigned ephemeral port — callers that want spec.md's
// documented default must set Port: DefaultPort explicitly (the
// embedding program's config loader does this). RouterCount <= 0 falls
// back to DefaultRouterCount. MaxSatellites <= 0 means unbounded.
type Config struct {
	Address       string
	Port          int
	RouterCount   int
	MaxSatellites int
	Logger        *slog.Logger
	Hooks         *Hooks
}

// deadlineLimitListener restores SetDeadline support lost when a listener
// is wrapped by netutil.LimitListener: LimitListener embeds net.Listener
// as an interface-typed field and promotes only Accept and Close, so a
// concrete listener's SetDeadline method (needed by Acceptor's
// bounded-timeout accept loop to observe shutdown promptly) is no longer
// reachable through a type assertion on the wrapped value. SetDeadline is
// forwarded to the original, unwrapped listener instead; since
// LimitListener's Accept calls straight through to that same listener,
// setting the deadline there still governs the Accept call the limited
// listener makes on Acceptor's behalf.
type deadlineLimitListener struct {
	net.Listener
	raw net.Listener
}

func (d *deadlineLimitListener) SetDeadline(t time.Time) error {
	dl, ok := d.raw.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return nil
	}
	return dl.SetDeadline(t)
}

// Core manages a home-automation satellite swarm: it owns the listener
// socket, the satellite set, the subscription index, the event queue,
// and the shutdown flag.
type Core struct {
	mu    sync.Mutex
	state State
	cfg   Config

	listener net.Listener
	sats     *fleet.Set
	subs     *fleet.Index
	q        *queue.Queue
	sf       *shutdown.Flag

	acceptor *Acceptor
	reader   *Reader
	routers  []*Router

	logger *slog.Logger
	hooks  *Hooks
}

// New returns a Clean Core ready for Start.
func New(cfg Config) *Core {
	if cfg.RouterCount <= 0 {
		cfg.RouterCount = DefaultRouterCount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		state:  StateClean,
		cfg:    cfg,
		logger: logger,
		hooks:  cfg.Hooks,
	}
}

// State returns the Core's current lifecycle state.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FleetSize returns the current number of connected satellites.
// Intended for observability; callers must not rely on it for routing.
func (c *Core) FleetSize() int {
	c.mu.Lock()
	sats := c.sats
	c.mu.Unlock()
	if sats == nil {
		return 0
	}
	return sats.Len()
}

// Addr returns the listener's bound address, or nil if the Core is not
// Running. Useful when Config.Port is 0 and the OS assigned an ephemeral
// port, e.g. in tests.
func (c *Core) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Start binds the listener, constructs the acceptor, reader, and router
// pool, and starts them. Fails with *InvalidStateError if the Core is not
// Clean.
func (c *Core) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateClean {
		return &InvalidStateError{Op: "start", From: c.state}
	}

	rawListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.cfg.Address, c.cfg.Port))
	if err != nil {
		return fmt.Errorf("core: listen on %s:%d: %w", c.cfg.Address, c.cfg.Port, err)
	}
	listener := net.Listener(rawListener)
	if c.cfg.MaxSatellites > 0 {
		listener = &deadlineLimitListener{
			Listener: netutil.LimitListener(rawListener, c.cfg.MaxSatellites),
			raw:      rawListener,
		}
	}

	sf := &shutdown.Flag{}
	sf.Unset()

	c.listener = listener
	c.sats = fleet.NewSet()
	c.subs = fleet.NewIndex()
	c.q = queue.New()
	c.sf = sf

	c.acceptor = NewAcceptor(listener, c.sats, sf, c.logger, c.hooks)
	c.reader = NewReader(c.sats, c.subs, c.q, sf, c.logger, c.hooks)
	c.routers = make([]*Router, c.cfg.RouterCount)
	for i := range c.routers {
		c.routers[i] = NewRouter(i, c.sats, c.subs, c.q, sf, c.logger, c.hooks)
	}

	go c.acceptor.Run()
	go c.reader.Run()
	for _, r := range c.routers {
		go r.Run()
	}

	c.state = StateRunning
	c.logger.Info("core started", "port", c.cfg.Port, "routers", len(c.routers))
	return nil
}

// Shutdown requests a clean stop: it sets the shutdown flag, wakes every
// router blocked on an empty queue, waits a brief grace period, then
// joins each worker with a per-worker timeout. Sockets are only closed
// for components that actually joined, so a stuck worker never has its
// socket yanked out from under it. If every worker joins, the Core
// returns to Clean and Start may be called again; otherwise it becomes
// Unclean and returns a *ShutdownReport naming the stragglers.
func (c *Core) Shutdown() error {
	c.mu.Lock()
	if c.state != StateRunning {
		defer c.mu.Unlock()
		return &InvalidStateError{Op: "shutdown", From: c.state}
	}
	sf := c.sf
	q := c.q
	acceptor := c.acceptor
	reader := c.reader
	routers := c.routers
	listener := c.listener
	sats := c.sats
	c.mu.Unlock()

	sf.Set()
	q.BroadcastShutdown()
	time.Sleep(shutdownGrace)

	var unjoined []string
	acceptorJoined := waitDone(acceptor.Done(), joinTimeout)
	if !acceptorJoined {
		unjoined = append(unjoined, "acceptor")
	}
	readerJoined := waitDone(reader.Done(), joinTimeout)
	if !readerJoined {
		unjoined = append(unjoined, "reader")
	}
	allRoutersJoined := true
	for i, r := range routers {
		if !waitDone(r.Done(), joinTimeout) {
			allRoutersJoined = false
			unjoined = append(unjoined, fmt.Sprintf("router-%d", i))
		}
	}

	if acceptorJoined {
		_ = listener.Close()
	}
	if readerJoined && allRoutersJoined {
		for _, h := range sats.Snapshot() {
			_ = h.Close()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(unjoined) > 0 {
		c.state = StateUnclean
		c.logger.Error("core shutdown incomplete", "unjoined", unjoined)
		return &ShutdownReport{Unjoined: unjoined}
	}
	c.state = StateClean
	c.logger.Info("core shutdown clean")
	return nil
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
