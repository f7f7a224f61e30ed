package broker

import "time"

// FleetEventKind identifies the kind of observability event a Hooks
// value can receive. These are purely informational: nothing in the
// broker's routing logic depends on whether a hook is wired up.
type FleetEventKind string

// Fleet event kinds emitted by the acceptor, reader, and router pool.
const (
	KindJoined       FleetEventKind = "satellite_joined"
	KindLeft         FleetEventKind = "satellite_left"
	KindSubscribed   FleetEventKind = "subscribed"
	KindUnsubscribed FleetEventKind = "unsubscribed"
	KindRouted       FleetEventKind = "routed"
)

// FleetEvent is a single observability event: a satellite joining or
// leaving the fleet, a subscription change, or a data event being
// routed. The fleet observer and MQTT bridge both consume these.
type FleetEvent struct {
	Kind        FleetEventKind `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	SatelliteID string         `json:"satellite_id,omitempty"`
	PeerAddr    string         `json:"peer_addr,omitempty"`
	EventType   string         `json:"event_type,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Hooks carries optional observability callbacks. A nil *Hooks, or a nil
// OnFleetEvent field, makes every emit a no-op — components never need to
// guard against an unconfigured observer, matching the nil-safe pattern
// the teacher's event bus uses for its Publish method.
type Hooks struct {
	OnFleetEvent func(FleetEvent)
}

func (h *Hooks) emit(ev FleetEvent) {
	if h == nil || h.OnFleetEvent == nil {
		return
	}
	ev.Timestamp = time.Now()
	h.OnFleetEvent(ev)
}
