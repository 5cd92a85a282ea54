package invite

import (
	"context"
	"sync"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
)

type EventKind string

const (
	EventInvitationStatusChanged  = EventKind("invitation.status_changed")
	EventGreetingAttemptJoined    = EventKind("greeting_attempt.joined")
	EventGreetingAttemptReady     = EventKind("greeting_attempt.ready")
	EventGreetingAttemptCancelled = EventKind("greeting_attempt.cancelled")
)

// Event is a flat record of the observable changes of invitations & greeting attempts.
// Fields that do not apply to Kind are left empty.
type Event struct {
	Kind      EventKind      `json:"kind" cbor:"1,keyasint"`
	Org       OrganizationID `json:"org" cbor:"2,keyasint"`
	Token     Token          `json:"token" cbor:"3,keyasint"`
	Status    Status         `json:"status,omitempty" cbor:"4,keyasint,omitempty"`
	AttemptID AttemptID      `json:"attempt_id,omitzero" cbor:"5,keyasint"`
	Side      Side           `json:"side,omitempty" cbor:"6,keyasint,omitempty"`
	Origin    Side           `json:"origin,omitempty" cbor:"7,keyasint,omitempty"`
	Reason    CancelReason   `json:"reason,omitempty" cbor:"8,keyasint,omitempty"`
	Timestamp time.Time      `json:"timestamp" cbor:"9,keyasint"`
}

// EventFilter selects the Events delivered to a Subscription.
type EventFilter func(Event) bool

// OrgFilter returns an EventFilter that accepts the events of org.
func OrgFilter(org OrganizationID) EventFilter {
	return func(evt Event) bool {
		return org == evt.Org
	}
}

// Subscription receives published Events on C until Close is called.
type Subscription struct {
	C      <-chan Event
	c      chan Event
	filter EventFilter
	bus    *EventBus
	closed bool
}

// Close unregisters the Subscription and closes C.
func (self *Subscription) Close() {
	self.bus.unsubscribe(self)
}

// EventBus fans out Events to Subscriptions.
// Publish never blocks, events are dropped for subscribers that do not keep up.
type EventBus struct {
	mut  sync.Mutex
	subs map[*Subscription]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*Subscription]struct{})}
}

// Subscribe returns a Subscription buffering up to size events accepted by filter.
// A nil filter accepts every event.
func (self *EventBus) Subscribe(size int, filter EventFilter) *Subscription {
	if size < 1 {
		size = 1
	}
	c := make(chan Event, size)
	sub := &Subscription{C: c, c: c, filter: filter, bus: self}

	self.mut.Lock()
	defer self.mut.Unlock()
	self.subs[sub] = struct{}{}

	return sub
}

func (self *EventBus) unsubscribe(sub *Subscription) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(self.subs, sub)
	close(sub.c)
}

// Publish delivers evt to the matching Subscriptions.
func (self *EventBus) Publish(ctx context.Context, evt Event) {
	self.mut.Lock()
	defer self.mut.Unlock()

	for sub := range self.subs {
		if nil != sub.filter && !sub.filter(evt) {
			continue
		}
		select {
		case sub.c <- evt:
		default:
			observability.GetObservability(ctx).Log().Warn(
				"dropped event for slow subscriber",
				"kind", evt.Kind,
				"org", evt.Org,
			)
		}
	}
}
