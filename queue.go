package saga

// eventQueue is an unbounded FIFO of pending events.
//
// It is owned exclusively by the router's run goroutine and needs no
// synchronization. Strict FIFO order here is what gives the router its
// global delivery order across identities.
type eventQueue struct {
	events []RecordedEvent
}

func newEventQueue() *eventQueue {
	return &eventQueue{events: make([]RecordedEvent, 0, 64)}
}

// push appends events to the back of the queue, preserving their order.
func (q *eventQueue) push(events ...RecordedEvent) {
	q.events = append(q.events, events...)
}

// pushFront returns an event to the front of the queue, shifting into
// existing capacity where possible.
func (q *eventQueue) pushFront(e RecordedEvent) {
	q.events = append(q.events, RecordedEvent{})
	copy(q.events[1:], q.events)
	q.events[0] = e
}

// pop removes and returns the front event.
// Returns (RecordedEvent{}, false) if the queue is empty.
func (q *eventQueue) pop() (RecordedEvent, bool) {
	if len(q.events) == 0 {
		return RecordedEvent{}, false
	}
	e := q.events[0]

	// Clear the slot so the payload can be collected before the
	// backing array is reallocated.
	q.events[0] = RecordedEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

func (q *eventQueue) len() int {
	return len(q.events)
}
