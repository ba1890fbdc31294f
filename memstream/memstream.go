// Package memstream provides an in-memory ordered event stream with
// per-consumer checkpoints. It implements the saga.Stream contract and is
// intended for tests, examples, and single-process deployments.
package memstream

import (
	"context"
	"errors"
	"sync"

	saga "github.com/fxsml/gosaga"
)

// ErrStreamClosed is returned when operations are attempted on a closed stream.
var ErrStreamClosed = errors.New("memstream: stream closed")

// Config configures the stream behavior.
type Config struct {
	// MaxBatch is the maximum number of events per delivered batch.
	// Default: 16.
	MaxBatch int
}

func (c *Config) defaults() Config {
	cfg := *c
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 16
	}
	return cfg
}

// Stream is an append-only in-memory event log.
//
// Event IDs are assigned from one strictly increasing namespace starting at
// 1. Each consumer name has a durable checkpoint: subscribing delivers every
// event after the checkpoint, in order, and acknowledgments advance it.
// Resubscribing with the same consumer name redelivers everything not yet
// acknowledged, which is exactly what a restarted router relies on.
type Stream struct {
	cfg      Config
	closedCh chan struct{}

	mu          sync.Mutex
	events      []saga.RecordedEvent
	nextID      uint64
	checkpoints map[string]uint64
	subs        map[*subscription]struct{}
	closed      bool
}

// New creates an empty stream.
func New(config Config) *Stream {
	return &Stream{
		cfg:         config.defaults(),
		closedCh:    make(chan struct{}),
		checkpoints: make(map[string]uint64),
		subs:        make(map[*subscription]struct{}),
	}
}

// Append records a new event and returns it with its assigned id.
func (s *Stream) Append(payload []byte, props saga.Properties) (saga.RecordedEvent, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return saga.RecordedEvent{}, ErrStreamClosed
	}
	s.nextID++
	e := saga.NewRecordedEvent(s.nextID, payload, props)
	s.events = append(s.events, e)
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.wake()
	}
	return e, nil
}

// Subscribe implements saga.Stream. Delivery starts after the consumer's
// checkpoint and runs on a dedicated goroutine until ctx is canceled or the
// stream closes.
func (s *Stream) Subscribe(ctx context.Context, consumer string, receiver saga.Subscriber) (saga.Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	sub := &subscription{
		stream:   s,
		consumer: consumer,
		receiver: receiver,
		cursor:   s.checkpoints[consumer],
		signal:   make(chan struct{}, 1),
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.deliver(ctx)
	return sub, nil
}

// Checkpoint returns the durable checkpoint for a consumer, 0 if none.
func (s *Stream) Checkpoint(consumer string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[consumer]
}

// Len returns the number of recorded events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Close stops all deliveries. Subsequent operations return ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.closedCh)
	return nil
}

// nextBatch returns up to MaxBatch events after the cursor.
func (s *Stream) nextBatch(cursor uint64) []saga.RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []saga.RecordedEvent
	for _, e := range s.events {
		if e.ID <= cursor {
			continue
		}
		batch = append(batch, e)
		if len(batch) == s.cfg.MaxBatch {
			break
		}
	}
	return batch
}

func (s *Stream) advance(consumer string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.checkpoints[consumer] {
		s.checkpoints[consumer] = id
	}
}

func (s *Stream) drop(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// subscription is one consumer's delivery loop and ack target.
type subscription struct {
	stream   *Stream
	consumer string
	receiver saga.Subscriber
	cursor   uint64
	signal   chan struct{}
}

// Ack implements saga.Subscription. Idempotent, max semantics.
func (sub *subscription) Ack(_ context.Context, eventID uint64) error {
	sub.stream.advance(sub.consumer, eventID)
	return nil
}

func (sub *subscription) wake() {
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *subscription) deliver(ctx context.Context) {
	defer sub.stream.drop(sub)

	for {
		batch := sub.stream.nextBatch(sub.cursor)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-sub.stream.closedCh:
				return
			case <-sub.signal:
				continue
			}
		}
		sub.receiver.ReceiveBatch(batch, sub)
		sub.cursor = batch[len(batch)-1].ID
	}
}
