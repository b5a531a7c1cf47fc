// Package memstore provides a process-local, in-memory eventlog.Store.
// It is the default store for tests and single-process deployments; its
// append/subscribe shape is grounded on the teacher's engine/inmem adapter
// and hooks.Bus fan-out (synchronous delivery; the order among
// subscribers is not defined; stop on first error is not applicable here
// since publish cannot fail).
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

type stream struct {
	events []eventlog.StoredEvent // seq i is at index i-1
}

type projectionSlot struct {
	cursor ident.EventID
	state  []byte
	saved  bool
}

// Store is an in-memory eventlog.Store. Zero value is not usable; use New.
type Store struct {
	mu          sync.Mutex
	nextGlobal  uint64
	allByOrder  []eventlog.StoredEvent
	byID        map[ident.EventID]int // index into allByOrder
	streams     map[ident.TaskID]*stream
	projections map[string]projectionSlot

	subMu sync.Mutex
	subs  map[int]func(eventlog.StoredEvent)
	subSeq int
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		byID:        make(map[ident.EventID]int),
		streams:     make(map[ident.TaskID]*stream),
		projections: make(map[string]projectionSlot),
		subs:        make(map[int]func(eventlog.StoredEvent)),
	}
}

// Append implements eventlog.Store. The lock is held for the whole batch, so
// either all events become visible or (on a panic-free path) none do; there
// is no partial-write state to roll back because we never publish until the
// whole batch is committed.
func (s *Store) Append(_ context.Context, streamID ident.TaskID, events []eventlog.DomainEvent) ([]eventlog.StoredEvent, error) {
	if len(events) == 0 {
		return nil, eventlog.ErrEmptyBatch
	}
	s.mu.Lock()
	st, ok := s.streams[streamID]
	if !ok {
		st = &stream{}
		s.streams[streamID] = st
	}
	out := make([]eventlog.StoredEvent, 0, len(events))
	for _, ev := range events {
		s.nextGlobal++
		se := eventlog.StoredEvent{
			ID:       ident.EventID(strconv.FormatUint(s.nextGlobal, 10)),
			StreamID: streamID,
			Seq:      uint64(len(st.events)) + 1,
			Type:     ev.EventType(),
			Payload:  ev,
		}
		se.CreatedAt = time.Now()
		st.events = append(st.events, se)
		s.allByOrder = append(s.allByOrder, se)
		s.byID[se.ID] = len(s.allByOrder) - 1
		out = append(out, se)
	}
	s.mu.Unlock()

	s.publishAll(out)
	return out, nil
}

func (s *Store) publishAll(events []eventlog.StoredEvent) {
	s.subMu.Lock()
	handlers := make([]func(eventlog.StoredEvent), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subMu.Unlock()
	for _, se := range events {
		for _, h := range handlers {
			h(se)
		}
	}
}

// ReadAll implements eventlog.Store.
func (s *Store) ReadAll(_ context.Context, afterID ident.EventID) ([]eventlog.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if afterID != "" {
		if idx, ok := s.byID[afterID]; ok {
			start = idx + 1
		}
	}
	if start >= len(s.allByOrder) {
		return nil, nil
	}
	out := make([]eventlog.StoredEvent, len(s.allByOrder)-start)
	copy(out, s.allByOrder[start:])
	return out, nil
}

// ReadStream implements eventlog.Store.
func (s *Store) ReadStream(_ context.Context, streamID ident.TaskID, fromSeq uint64) ([]eventlog.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return nil, nil
	}
	if fromSeq == 0 {
		fromSeq = 1
	}
	if fromSeq > uint64(len(st.events)) {
		return nil, nil
	}
	out := make([]eventlog.StoredEvent, len(st.events)-int(fromSeq-1))
	copy(out, st.events[fromSeq-1:])
	return out, nil
}

// ReadByID implements eventlog.Store.
func (s *Store) ReadByID(_ context.Context, id ident.EventID) (eventlog.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return eventlog.StoredEvent{}, eventlog.ErrEventNotFound
	}
	return s.allByOrder[idx], nil
}

// GetProjection implements eventlog.Store.
func (s *Store) GetProjection(_ context.Context, name string, def []byte) (ident.EventID, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.projections[name]
	if !ok {
		return "", def, nil
	}
	return slot.cursor, slot.state, nil
}

// SaveProjection implements eventlog.Store. Overwrites the slot for name;
// repeated saves never grow storage.
func (s *Store) SaveProjection(_ context.Context, name string, cursor ident.EventID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projections[name] = projectionSlot{cursor: cursor, state: state, saved: true}
	return nil
}

// Subscribe implements eventlog.Store.
func (s *Store) Subscribe(handler func(eventlog.StoredEvent)) func() {
	s.subMu.Lock()
	id := s.subSeq
	s.subSeq++
	s.subs[id] = handler
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}
