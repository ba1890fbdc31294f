package redisstream_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	saga "github.com/fxsml/gosaga"
	"github.com/fxsml/gosaga/redisstream"
)

func newTestStream(t *testing.T) *redisstream.Stream {
	s, _ := newTestStreamClient(t)
	return s
}

func newTestStreamClient(t *testing.T) (*redisstream.Stream, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := redisstream.New(client, redisstream.Config{
		Stream:       "events",
		PollInterval: 5 * time.Millisecond,
	})
	return s, client
}

type collector struct {
	mu     sync.Mutex
	events []saga.RecordedEvent
	sub    saga.Subscription
}

func (c *collector) ReceiveBatch(events []saga.RecordedEvent, sub saga.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	c.sub = sub
}

func (c *collector) ids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, len(c.events))
	for n, e := range c.events {
		ids[n] = e.ID
	}
	return ids
}

func (c *collector) subscription() saga.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *collector) payloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for n, e := range c.events {
		out[n] = string(e.Payload)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestStream_AppendAssignsSequentialIDs(t *testing.T) {
	s := newTestStream(t)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		e, err := s.Append(ctx, []byte("x"), nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if e.ID != want {
			t.Errorf("Expected id %d, got %d", want, e.ID)
		}
	}
}

func TestStream_SubscribeDeliversInOrder(t *testing.T) {
	s := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Append(ctx, []byte("a"), nil)
	s.Append(ctx, []byte("b"), nil)

	c := &collector{}
	if _, err := s.Subscribe(ctx, "orders", c); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return len(c.ids()) == 2 }, "backlog delivery")

	s.Append(ctx, []byte("c"), nil)
	waitFor(t, func() bool { return len(c.ids()) == 3 }, "live delivery")

	ids := c.ids()
	for n, id := range ids {
		if id != uint64(n+1) {
			t.Fatalf("Expected ordered ids, got %v", ids)
		}
	}
	if got := c.payloads(); got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Expected payloads [a b c], got %v", got)
	}
}

func TestStream_PropertiesRoundTrip(t *testing.T) {
	s := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	props := saga.Properties{"source": "/orders", "attempt": float64(1)}
	if _, err := s.Append(ctx, []byte("x"), props); err != nil {
		t.Fatalf("Append: %v", err)
	}

	c := &collector{}
	s.Subscribe(ctx, "orders", c)
	waitFor(t, func() bool { return len(c.ids()) == 1 }, "delivery")

	c.mu.Lock()
	defer c.mu.Unlock()
	got := c.events[0].Properties
	if got["source"] != "/orders" {
		t.Errorf("Expected source /orders, got %v", got["source"])
	}
	if got["attempt"] != float64(1) {
		t.Errorf("Expected attempt 1, got %v", got["attempt"])
	}
}

// A foreign entry the subscription cannot decode is skipped, not fatal:
// the poll loop advances past it and keeps delivering valid events.
func TestStream_SkipsMalformedEntries(t *testing.T) {
	s, client := newTestStreamClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Plant an entry with undecodable properties, written outside Append.
	// Bump the sequence key first so Append does not collide with its id.
	if err := client.Set(ctx, "events:seq", 1, 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "events",
		ID:     "1-0",
		Values: map[string]any{"payload": "junk", "properties": "not json"},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd: %v", err)
	}

	if _, err := s.Append(ctx, []byte("good"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	c := &collector{}
	if _, err := s.Subscribe(ctx, "orders", c); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitFor(t, func() bool { return len(c.ids()) == 1 }, "delivery past malformed entry")

	if ids := c.ids(); ids[0] != 2 {
		t.Errorf("Expected only event 2 delivered, got %v", ids)
	}
	if got := c.payloads(); got[0] != "good" {
		t.Errorf("Expected payload good, got %v", got)
	}

	// The stream stays live after the skip.
	if _, err := s.Append(ctx, []byte("next"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitFor(t, func() bool { return len(c.ids()) == 2 }, "delivery after skip")
}

func TestStream_AckAdvancesCheckpoint(t *testing.T) {
	s := newTestStream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Append(ctx, []byte("a"), nil)
	s.Append(ctx, []byte("b"), nil)

	c := &collector{}
	s.Subscribe(ctx, "orders", c)
	waitFor(t, func() bool { return c.subscription() != nil }, "subscription")

	sub := c.subscription()
	if err := sub.Ack(ctx, 2); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	cp, err := s.Checkpoint(ctx, "orders")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if cp != 2 {
		t.Errorf("Expected checkpoint 2, got %d", cp)
	}

	// Lower acks never move the checkpoint backward.
	if err := sub.Ack(ctx, 1); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	cp, _ = s.Checkpoint(ctx, "orders")
	if cp != 2 {
		t.Errorf("Expected checkpoint to stay at 2, got %d", cp)
	}
}

func TestStream_ResumeAfterCheckpoint(t *testing.T) {
	s := newTestStream(t)
	ctx := context.Background()

	s.Append(ctx, []byte("a"), nil)
	s.Append(ctx, []byte("b"), nil)
	s.Append(ctx, []byte("c"), nil)

	sctx, cancel := context.WithCancel(ctx)
	c := &collector{}
	s.Subscribe(sctx, "orders", c)
	waitFor(t, func() bool { return len(c.ids()) == 3 }, "first delivery")
	c.subscription().Ack(ctx, 2)
	cancel()

	// Resubscribe: only the unacknowledged tail comes back.
	c2 := &collector{}
	sctx2, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	s.Subscribe(sctx2, "orders", c2)
	waitFor(t, func() bool { return len(c2.ids()) == 1 }, "resumed delivery")
	if ids := c2.ids(); ids[0] != 3 {
		t.Errorf("Expected redelivery of [3], got %v", ids)
	}
}
