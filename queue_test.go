package saga

import "testing"

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	q.push(NewRecordedEvent(1, nil, nil), NewRecordedEvent(2, nil, nil))
	q.push(NewRecordedEvent(3, nil, nil))

	if q.len() != 3 {
		t.Fatalf("Expected len 3, got %d", q.len())
	}
	for want := uint64(1); want <= 3; want++ {
		e, ok := q.pop()
		if !ok {
			t.Fatalf("Expected event %d, queue empty", want)
		}
		if e.ID != want {
			t.Errorf("Expected event %d, got %d", want, e.ID)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("Expected empty queue after draining")
	}
}

func TestEventQueue_PushFront(t *testing.T) {
	q := newEventQueue()
	q.push(NewRecordedEvent(2, nil, nil), NewRecordedEvent(3, nil, nil))
	q.pushFront(NewRecordedEvent(1, nil, nil))

	e, _ := q.pop()
	if e.ID != 1 {
		t.Errorf("Expected front event 1, got %d", e.ID)
	}
	e, _ = q.pop()
	if e.ID != 2 {
		t.Errorf("Expected event 2 after front, got %d", e.ID)
	}
}

func TestEventQueue_PushFrontAfterPop(t *testing.T) {
	q := newEventQueue()
	q.push(NewRecordedEvent(1, nil, nil), NewRecordedEvent(2, nil, nil), NewRecordedEvent(3, nil, nil))
	q.pop()

	// Returning a popped event must restore FIFO order intact.
	q.pushFront(NewRecordedEvent(1, nil, nil))
	for want := uint64(1); want <= 3; want++ {
		e, ok := q.pop()
		if !ok || e.ID != want {
			t.Fatalf("Expected event %d, got %d (ok=%v)", want, e.ID, ok)
		}
	}
}

func TestEventQueue_PopEmpty(t *testing.T) {
	q := newEventQueue()
	if _, ok := q.pop(); ok {
		t.Error("Expected pop on empty queue to report false")
	}
	if q.len() != 0 {
		t.Errorf("Expected len 0, got %d", q.len())
	}
}
