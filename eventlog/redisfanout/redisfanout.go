// Package redisfanout wraps an eventlog.Store to additionally publish every
// appended event on a Redis pub/sub channel, so multiple server processes
// sharing one durable store (sqlitestore against a shared volume, or a
// future networked backend) can still each maintain live, in-process
// subscribers. It does not replace the wrapped Store's own Subscribe — that
// still serves same-process subscribers synchronously and without the
// network hop.
package redisfanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

// wireEvent is the payload shipped over the Redis channel. Payload is kept
// as raw JSON; peers must know the same closed event-type set to decode it,
// which they do since redisfanout only ever shares this module's events.
type wireEvent struct {
	ID        ident.EventID      `json:"id"`
	StreamID  ident.TaskID       `json:"streamId"`
	Seq       uint64             `json:"seq"`
	Type      eventlog.EventType `json:"type"`
	Payload   json.RawMessage    `json:"payload"`
}

// Store decorates an eventlog.Store with Redis-backed cross-process fan-out.
type Store struct {
	eventlog.Store
	rdb     *redis.Client
	channel string
	log     *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(eventlog.StoredEvent)
	subSeq int
}

// Wrap returns a Store that publishes every Append to the given Redis
// channel in addition to delegating all reads/writes to inner.
func Wrap(inner eventlog.Store, rdb *redis.Client, channel string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{Store: inner, rdb: rdb, channel: channel, log: log, subs: make(map[int]func(eventlog.StoredEvent))}
}

// Append publishes to the inner store first; Redis fan-out only happens
// once the event is durable there, matching the rest of the kernel's
// publish-after-durability rule.
func (s *Store) Append(ctx context.Context, streamID ident.TaskID, events []eventlog.DomainEvent) ([]eventlog.StoredEvent, error) {
	stored, err := s.Store.Append(ctx, streamID, events)
	if err != nil {
		return nil, err
	}
	for _, se := range stored {
		s.publishRemote(ctx, se)
	}
	return stored, nil
}

func (s *Store) publishRemote(ctx context.Context, se eventlog.StoredEvent) {
	payload, err := json.Marshal(se.Payload)
	if err != nil {
		s.log.Error("redisfanout: marshal payload", "error", err, "eventId", se.ID)
		return
	}
	wire := wireEvent{ID: se.ID, StreamID: se.StreamID, Seq: se.Seq, Type: se.Type, Payload: payload}
	body, err := json.Marshal(wire)
	if err != nil {
		s.log.Error("redisfanout: marshal wire event", "error", err, "eventId", se.ID)
		return
	}
	if err := s.rdb.Publish(ctx, s.channel, body).Err(); err != nil {
		s.log.Error("redisfanout: publish", "error", err, "eventId", se.ID)
	}
}

// Subscribe registers a local handler AND, the first time it is called,
// starts a background goroutine relaying remote-published events (from
// other processes) into the same handler set. Events this process produced
// itself are delivered twice over the wire (once locally via the inner
// store, once via Redis); callers that key state by event ID should treat
// delivery as at-least-once.
func (s *Store) Subscribe(handler func(eventlog.StoredEvent)) func() {
	unsubInner := s.Store.Subscribe(handler)

	s.mu.Lock()
	id := s.subSeq
	s.subSeq++
	s.subs[id] = handler
	first := len(s.subs) == 1
	s.mu.Unlock()

	var stopRemote func()
	if first {
		stopRemote = s.startRemoteRelay()
	}

	return func() {
		unsubInner()
		s.mu.Lock()
		delete(s.subs, id)
		last := len(s.subs) == 0
		s.mu.Unlock()
		if last && stopRemote != nil {
			stopRemote()
		}
	}
}

func (s *Store) startRemoteRelay() func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	ch := pubsub.Channel()

	go func() {
		for msg := range ch {
			var wire wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				s.log.Error("redisfanout: decode wire event", "error", err)
				continue
			}
			payload, err := decodePayload(wire.Type, wire.Payload)
			if err != nil {
				s.log.Error("redisfanout: decode payload", "error", err)
				continue
			}
			se := eventlog.StoredEvent{ID: wire.ID, StreamID: wire.StreamID, Seq: wire.Seq, Type: wire.Type, Payload: payload}

			s.mu.Lock()
			handlers := make([]func(eventlog.StoredEvent), 0, len(s.subs))
			for _, h := range s.subs {
				handlers = append(handlers, h)
			}
			s.mu.Unlock()
			for _, h := range handlers {
				h(se)
			}
		}
	}()

	return func() {
		cancel()
		pubsub.Close()
	}
}
