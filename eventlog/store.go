package eventlog

import (
	"context"
	"errors"

	"github.com/seedrun/seed/ident"
)

// Store is the append-only event log contract from spec.md §4.1. A single
// writer owns durability; appends are serialized so that each batch computes
// the next per-stream Seq and the next global ID atomically. Publish fires
// only after durable persistence, so subscribers never observe uncommitted
// events.
//
// Implementations: memstore (default, process-local), jsonl (NDJSON file,
// §6's on-disk contract), sqlitestore (the other persistence contract §6
// names).
type Store interface {
	// Append stores events for streamID under a single writer lock. Either
	// every event in the batch becomes durable and visible, or none do.
	Append(ctx context.Context, streamID ident.TaskID, events []DomainEvent) ([]StoredEvent, error)

	// ReadAll returns every stored event with ID greater than afterID, in
	// increasing global ID order.
	ReadAll(ctx context.Context, afterID ident.EventID) ([]StoredEvent, error)

	// ReadStream returns the events for streamID with Seq >= fromSeq, in
	// increasing Seq order. Seq starts at 1 with no gaps.
	ReadStream(ctx context.Context, streamID ident.TaskID, fromSeq uint64) ([]StoredEvent, error)

	// ReadByID returns the single event with the given global ID.
	ReadByID(ctx context.Context, id ident.EventID) (StoredEvent, error)

	// GetProjection loads the last saved checkpoint for name, or def if none
	// has been saved yet.
	GetProjection(ctx context.Context, name string, def []byte) (cursor ident.EventID, state []byte, err error)

	// SaveProjection overwrites the checkpoint for name. Repeated saves for
	// the same name occupy exactly one slot; they never accumulate.
	SaveProjection(ctx context.Context, name string, cursor ident.EventID, state []byte) error

	// Subscribe registers a new live subscriber. Each stored event is
	// delivered to every active subscriber exactly once, in append order,
	// after the event durably persists. The returned function unsubscribes.
	Subscribe(handler func(StoredEvent)) (unsubscribe func())
}

// Sentinel errors surfaced synchronously to callers per spec.md §7
// (validation failures never become events).
var (
	// ErrUnknownStream names a stream with no appended events. No Store in
	// this module returns it: ReadStream on such a stream returns an empty
	// result and a nil error.
	ErrUnknownStream = errors.New("eventlog: unknown stream")
	// ErrEventNotFound is returned by ReadByID when no event has that ID.
	ErrEventNotFound = errors.New("eventlog: event not found")
	// ErrEmptyBatch is returned by Append when called with zero events.
	ErrEmptyBatch = errors.New("eventlog: append requires at least one event")
)
