package saga

import "context"

// Subscriber receives batches of recorded events from a stream.
// The Router implements Subscriber.
type Subscriber interface {
	// ReceiveBatch delivers a batch of events in stream order together with
	// the subscription to acknowledge them against. Streams may reissue the
	// subscription on every batch; subscribers must acknowledge against the
	// most recently delivered one.
	ReceiveBatch(events []RecordedEvent, sub Subscription)
}

// Subscription acknowledges processed events back to a stream.
type Subscription interface {
	// Ack advances the durable checkpoint for the subscribed consumer to
	// cover eventID. Acknowledging an already-covered id is a no-op.
	Ack(ctx context.Context, eventID uint64) error
}

// Stream is an ordered, durable source of recorded events.
//
// A stream delivers events to the subscriber in strictly increasing ID
// order, starting after the last durably acknowledged checkpoint for the
// given consumer name. Redelivery after a resubscribe resumes from the
// checkpoint, so a consumer that lost in-memory state sees unacknowledged
// events again.
type Stream interface {
	Subscribe(ctx context.Context, consumer string, sub Subscriber) (Subscription, error)
}

// Acker receives processing confirmations from process-manager instances.
// The Router implements Acker.
type Acker interface {
	// AckEvent confirms that the event with the given id was processed.
	AckEvent(eventID uint64)
}
