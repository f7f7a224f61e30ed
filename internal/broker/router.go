package broker

import (
	"log/slog"
	"strings"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/queue"
	"github.com/nugget/satcore/internal/shutdown"
	"github.com/nugget/satcore/internal/wire"
)

const (
	controlTypeRegister   = "register"
	controlTypeUnregister = "unregister"
	controlPropertyType   = "type"
)

// Router drains the shared event queue and either applies a subscription
// control event or fans a data event out to its subscribers. Several
// identical routers (a pool, default four) share one queue; each drains
// it into a local batch under the queue's lock, then processes that
// batch lock-free.
type Router struct {
	id   int
	sats *fleet.Set
	subs *fleet.Index
	q    *queue.Queue
	sf   *shutdown.Flag

	logger *slog.Logger
	hooks  *Hooks

	done chan struct{}
}

// NewRouter builds one router-pool worker.
func NewRouter(id int, sats *fleet.Set, subs *fleet.Index, q *queue.Queue, sf *shutdown.Flag, logger *slog.Logger, hooks *Hooks) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		id:     id,
		sats:   sats,
		subs:   subs,
		q:      q,
		sf:     sf,
		logger: logger,
		hooks:  hooks,
		done:   make(chan struct{}),
	}
}

// Done is closed once Run returns.
func (rt *Router) Done() <-chan struct{} { return rt.done }

// Run drains and routes until shutdown is requested. It finishes routing
// the batch it has already drained; events still in the queue when it
// observes shutdown are not routed.
func (rt *Router) Run() {
	defer close(rt.done)
	for !rt.sf.IsSet() {
		batch := rt.q.Drain(rt.sf)
		for _, rec := range batch {
			rt.route(rec)
		}
	}
}

// route dispatches a single received event to the control-event or
// data-event path based on its case-folded outer type.
func (rt *Router) route(rec queue.ReceivedEvent) {
	lower := strings.ToLower(string(rec.Event.Type))
	switch lower {
	case controlTypeRegister:
		rt.handleControl(controlTypeRegister, rec)
	case controlTypeUnregister:
		rt.handleControl(controlTypeUnregister, rec)
	default:
		rt.handleData(rec)
	}
}

// handleControl applies a register/unregister event. A missing
// properties map or a missing "type" property silently drops the event
// by design — this matches the satellite-side contract where a
// malformed control event indicates a client bug, not a broker fault.
//
// The property key is looked up byte-exactly as "type" — unlike the
// outer event type used to detect register/unregister, this lookup is
// never case-folded.
func (rt *Router) handleControl(kind string, rec queue.ReceivedEvent) {
	if rec.Event.Properties == nil {
		return
	}
	target, ok := rec.Event.Properties[controlPropertyType]
	if !ok {
		return
	}
	targetType := string(target)

	switch kind {
	case controlTypeRegister:
		rt.subs.Register(rec.Source, targetType)
		rt.hooks.emit(FleetEvent{Kind: KindSubscribed, SatelliteID: rec.Source.ID, EventType: targetType})
	case controlTypeUnregister:
		rt.subs.Unregister(rec.Source, targetType)
		rt.hooks.emit(FleetEvent{Kind: KindUnsubscribed, SatelliteID: rec.Source.ID, EventType: targetType})
	}
}

// handleData fans a data event out to the union of "all" subscribers and
// subscribers of the event's exact type, delivering at most once per
// recipient even if a satellite appears in both lists. An event with no
// type reaches only "all" subscribers, since there is no type-specific
// list to union with.
func (rt *Router) handleData(rec queue.ReceivedEvent) {
	all := rt.subs.Subscribers(fleet.All)
	var typed []*fleet.Handle
	if len(rec.Event.Type) > 0 {
		typed = rt.subs.Subscribers(string(rec.Event.Type))
	}

	seen := make(map[*fleet.Handle]struct{}, len(all)+len(typed))
	recipients := make([]*fleet.Handle, 0, len(all)+len(typed))
	for _, lists := range [][]*fleet.Handle{all, typed} {
		for _, h := range lists {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			recipients = append(recipients, h)
		}
	}
	if len(recipients) == 0 {
		return
	}

	payload, err := wire.Encode(rec.Event)
	if err != nil {
		// Cannot happen for an event that was itself just decoded off the
		// wire, but guard against it rather than panic on a future codec
		// change that relaxes decode strictness.
		rt.logger.Error("router: re-encode of routed event failed", "error", err)
		return
	}
	header := wire.PutHeader(len(payload))

	for _, h := range recipients {
		if err := h.Send(header, payload); err != nil {
			rt.logger.Warn("router: send failed, pruning satellite", "satellite_id", h.ID, "error", err)
			rt.sats.Remove(h)
			rt.subs.Prune(h)
			_ = h.Close()
			rt.hooks.emit(FleetEvent{Kind: KindLeft, SatelliteID: h.ID, Reason: "send_error"})
			continue
		}
		rt.hooks.emit(FleetEvent{Kind: KindRouted, SatelliteID: h.ID, EventType: string(rec.Event.Type)})
	}
}
