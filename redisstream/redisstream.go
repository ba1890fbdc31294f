// Package redisstream provides a Redis Streams backed event stream for the
// saga router. Events are appended with explicit entry IDs derived from a
// counter key, so the global event id namespace and the Redis stream
// position are the same strictly increasing sequence. Consumer checkpoints
// are plain keys advanced on acknowledgment.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	saga "github.com/fxsml/gosaga"
)

// Config configures the stream behavior.
type Config struct {
	// Stream is the Redis stream key. Required.
	Stream string

	// PollInterval is the delay between XRANGE polls when the stream is
	// quiet. Default: 50ms.
	PollInterval time.Duration

	// MaxBatch is the maximum number of events per delivered batch.
	// Default: 16.
	MaxBatch int

	// Logger for subscription diagnostics. Default: slog-backed logger.
	Logger saga.Logger
}

func (c *Config) defaults() Config {
	cfg := *c
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = saga.NewSlogLogger(nil)
	}
	return cfg
}

// Stream is a Redis Streams backed saga.Stream.
//
// Checkpoints use last-writer-wins SET; run at most one subscriber per
// consumer name, which is how the router uses a stream anyway.
type Stream struct {
	client redis.UniversalClient
	cfg    Config
}

// New creates a stream over the given Redis client.
// Panics if client is nil or config.Stream is empty.
func New(client redis.UniversalClient, config Config) *Stream {
	if client == nil {
		panic("redisstream: client cannot be nil")
	}
	if config.Stream == "" {
		panic("redisstream: stream key cannot be empty")
	}
	return &Stream{client: client, cfg: config.defaults()}
}

func (s *Stream) seqKey() string {
	return s.cfg.Stream + ":seq"
}

func (s *Stream) checkpointKey(consumer string) string {
	return s.cfg.Stream + ":checkpoint:" + consumer
}

// Append records a new event and returns it with its assigned id.
func (s *Stream) Append(ctx context.Context, payload []byte, props saga.Properties) (saga.RecordedEvent, error) {
	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return saga.RecordedEvent{}, fmt.Errorf("redisstream: next id: %w", err)
	}
	id := uint64(seq)

	values := map[string]any{"payload": string(payload)}
	if len(props) > 0 {
		data, err := json.Marshal(props)
		if err != nil {
			return saga.RecordedEvent{}, fmt.Errorf("redisstream: marshal properties: %w", err)
		}
		values["properties"] = string(data)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		ID:     entryID(id),
		Values: values,
	}).Err()
	if err != nil {
		return saga.RecordedEvent{}, fmt.Errorf("redisstream: xadd: %w", err)
	}
	return saga.NewRecordedEvent(id, payload, props), nil
}

// Checkpoint returns the durable checkpoint for a consumer, 0 if none.
func (s *Stream) Checkpoint(ctx context.Context, consumer string) (uint64, error) {
	id, err := s.client.Get(ctx, s.checkpointKey(consumer)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redisstream: read checkpoint: %w", err)
	}
	return id, nil
}

// Subscribe implements saga.Stream. Delivery starts after the consumer's
// checkpoint and polls the stream until ctx is canceled.
func (s *Stream) Subscribe(ctx context.Context, consumer string, receiver saga.Subscriber) (saga.Subscription, error) {
	cursor, err := s.Checkpoint(ctx, consumer)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		stream:   s,
		consumer: consumer,
		receiver: receiver,
		cursor:   cursor,
	}
	go sub.poll(ctx)
	return sub, nil
}

// entryID maps a global event id onto a Redis stream entry ID.
func entryID(id uint64) string {
	return strconv.FormatUint(id, 10) + "-0"
}

// parseEntryID recovers the global event id from a stream entry ID.
func parseEntryID(id string) (uint64, error) {
	seq, _, _ := strings.Cut(id, "-")
	return strconv.ParseUint(seq, 10, 64)
}

type subscription struct {
	stream   *Stream
	consumer string
	receiver saga.Subscriber
	cursor   uint64
}

// Ack implements saga.Subscription. Idempotent, max semantics.
func (sub *subscription) Ack(ctx context.Context, eventID uint64) error {
	key := sub.stream.checkpointKey(sub.consumer)
	current, err := sub.stream.client.Get(ctx, key).Uint64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstream: read checkpoint: %w", err)
	}
	if eventID <= current {
		return nil
	}
	if err := sub.stream.client.Set(ctx, key, eventID, 0).Err(); err != nil {
		return fmt.Errorf("redisstream: advance checkpoint: %w", err)
	}
	return nil
}

func (sub *subscription) poll(ctx context.Context) {
	cfg := sub.stream.cfg
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		batch, cursor, err := sub.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			cfg.Logger.Error("Failed to read events",
				"stream", cfg.Stream, "consumer", sub.consumer, "error", err)
		}
		// The cursor moves past skipped entries too, so one foreign or
		// malformed entry cannot wedge the poll loop.
		sub.cursor = cursor
		if len(batch) > 0 {
			sub.receiver.ReceiveBatch(batch, sub)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// next reads up to MaxBatch entries after the cursor. Entries that cannot
// be converted are skipped with a warning; the returned cursor covers every
// entry seen, converted or not.
func (sub *subscription) next(ctx context.Context) ([]saga.RecordedEvent, uint64, error) {
	cursor := sub.cursor
	msgs, err := sub.stream.client.XRangeN(ctx,
		sub.stream.cfg.Stream, entryID(cursor+1), "+",
		int64(sub.stream.cfg.MaxBatch)).Result()
	if err != nil {
		return nil, cursor, err
	}

	events := make([]saga.RecordedEvent, 0, len(msgs))
	for _, msg := range msgs {
		id, err := parseEntryID(msg.ID)
		if err != nil {
			sub.stream.cfg.Logger.Warn("Skipping stream entry with unparseable id",
				"stream", sub.stream.cfg.Stream, "entry", msg.ID, "error", err)
			continue
		}
		if id > cursor {
			cursor = id
		}
		e, err := toEvent(id, msg)
		if err != nil {
			sub.stream.cfg.Logger.Warn("Skipping malformed stream entry",
				"stream", sub.stream.cfg.Stream, "entry", msg.ID, "error", err)
			continue
		}
		events = append(events, e)
	}
	return events, cursor, nil
}

func toEvent(id uint64, msg redis.XMessage) (saga.RecordedEvent, error) {
	var payload []byte
	if v, ok := msg.Values["payload"].(string); ok {
		payload = []byte(v)
	}

	var props saga.Properties
	if v, ok := msg.Values["properties"].(string); ok && v != "" {
		if err := json.Unmarshal([]byte(v), &props); err != nil {
			return saga.RecordedEvent{}, fmt.Errorf("redisstream: entry %q properties: %w", msg.ID, err)
		}
	}
	return saga.NewRecordedEvent(id, payload, props), nil
}
