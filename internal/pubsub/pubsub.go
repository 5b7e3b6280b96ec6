// Package pubsub carries queue state-change notifications between the
// transactional core and realtime subscribers.
package pubsub

import "context"

// Event names, one per ticket transition.
const (
	EventClaimed  = "queue_claimed"
	EventCalled   = "queue_called"
	EventServed   = "queue_served"
	EventSkipped  = "queue_skipped"
	EventReleased = "queue_released"
	EventReset    = "queue_reset"
	EventResetAll = "all_queues_reset"
)

// DefaultChannel is the broadcast channel all events go through.
const DefaultChannel = "queue_updates"

// Event is the wire form of one notification.
type Event struct {
	Event       string `json:"event"`
	CounterID   int64  `json:"counter_id,omitempty"`
	CounterName string `json:"counter_name,omitempty"`
	QueueNumber int    `json:"queue_number,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Subscriber interface {
	// Subscribe returns a channel of raw event payloads and a close
	// function that tears the subscription down.
	Subscribe(ctx context.Context) (<-chan []byte, func(), error)
}
