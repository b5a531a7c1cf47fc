// Package jsonl implements eventlog.Store backed by a single append-only
// newline-delimited JSON file, one record per event, carrying
// {id, streamId, seq, type, payload, createdAt} per spec.md §6. Readers
// tolerate a trailing partial line left by a writer crashing mid-write.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

// record is the on-disk shape of a StoredEvent. Payload is kept as raw JSON
// plus its type tag so it can be decoded back into the right concrete
// eventlog.DomainEvent on load.
type record struct {
	ID        ident.EventID    `json:"id"`
	StreamID  ident.TaskID     `json:"streamId"`
	Seq       uint64           `json:"seq"`
	Type      eventlog.EventType `json:"type"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt string           `json:"createdAt"`
}

type projectionRecord struct {
	Name   string          `json:"name"`
	Cursor ident.EventID   `json:"cursor"`
	State   json.RawMessage `json:"state"`
}

// Store is a file-backed eventlog.Store. All state is kept in memory after
// load; writes append to the file and then update memory, mirroring the
// in-memory store's commit-then-publish order.
type Store struct {
	mu   sync.Mutex
	path string
	f    *os.File

	nextGlobal  uint64
	allByOrder  []eventlog.StoredEvent
	byID        map[ident.EventID]int
	streams     map[ident.TaskID]*streamState
	projections map[string]projectionSlot

	projPath string
	projF    *os.File

	subMu  sync.Mutex
	subs   map[int]func(eventlog.StoredEvent)
	subSeq int
}

type streamState struct {
	events []eventlog.StoredEvent
}

type projectionSlot struct {
	cursor ident.EventID
	state  []byte
}

// Open opens (creating if necessary) the event file at path and a sibling
// projections file at path+".proj", replaying both into memory. A trailing
// partial line in either file is discarded rather than treated as an error.
func Open(path string) (*Store, error) {
	s := &Store{
		path:        path,
		byID:        make(map[ident.EventID]int),
		streams:     make(map[ident.TaskID]*streamState),
		projections: make(map[string]projectionSlot),
		subs:        make(map[int]func(eventlog.StoredEvent)),
		projPath:    path + ".proj",
	}

	if err := s.replayEvents(); err != nil {
		return nil, fmt.Errorf("jsonl: replay events: %w", err)
	}
	if err := s.replayProjections(); err != nil {
		return nil, fmt.Errorf("jsonl: replay projections: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open event file: %w", err)
	}
	s.f = f

	pf, err := os.OpenFile(s.projPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("jsonl: open projection file: %w", err)
	}
	s.projF = pf

	return s, nil
}

func (s *Store) replayEvents() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A trailing partial line from a prior crash; stop replay here.
			break
		}
		payload, err := decodePayload(rec)
		if err != nil {
			break
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		se := eventlog.StoredEvent{ID: rec.ID, StreamID: rec.StreamID, Seq: rec.Seq, Type: rec.Type, Payload: payload, CreatedAt: createdAt}
		s.allByOrder = append(s.allByOrder, se)
		s.byID[se.ID] = len(s.allByOrder) - 1
		st, ok := s.streams[rec.StreamID]
		if !ok {
			st = &streamState{}
			s.streams[rec.StreamID] = st
		}
		st.events = append(st.events, se)
		if n, err := parseUint(string(rec.ID)); err == nil && n > s.nextGlobal {
			s.nextGlobal = n
		}
	}
	return nil
}

func (s *Store) replayProjections() error {
	f, err := os.Open(s.projPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec projectionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			break
		}
		s.projections[rec.Name] = projectionSlot{cursor: rec.Cursor, state: []byte(rec.State)}
	}
	return nil
}

// Append implements eventlog.Store.
func (s *Store) Append(_ context.Context, streamID ident.TaskID, events []eventlog.DomainEvent) ([]eventlog.StoredEvent, error) {
	if len(events) == 0 {
		return nil, eventlog.ErrEmptyBatch
	}
	s.mu.Lock()
	st, ok := s.streams[streamID]
	if !ok {
		st = &streamState{}
		s.streams[streamID] = st
	}

	out := make([]eventlog.StoredEvent, 0, len(events))
	var buf []byte
	for _, ev := range events {
		s.nextGlobal++
		payloadJSON, err := json.Marshal(ev)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("jsonl: marshal payload: %w", err)
		}
		se := eventlog.StoredEvent{
			ID:        ident.EventID(formatUint(s.nextGlobal)),
			StreamID:  streamID,
			Seq:       uint64(len(st.events)+len(out)) + 1,
			Type:      ev.EventType(),
			Payload:   ev,
			CreatedAt: time.Now(),
		}
		rec := record{ID: se.ID, StreamID: se.StreamID, Seq: se.Seq, Type: se.Type, Payload: payloadJSON, CreatedAt: se.CreatedAt.Format(time.RFC3339Nano)}
		line, err := json.Marshal(rec)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("jsonl: marshal record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')

		out = append(out, se)
	}

	if _, err := s.f.Write(buf); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("jsonl: write: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("jsonl: sync: %w", err)
	}
	for _, se := range out {
		st.events = append(st.events, se)
		s.allByOrder = append(s.allByOrder, se)
		s.byID[se.ID] = len(s.allByOrder) - 1
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

// SaveProjection implements eventlog.Store. Each save appends a new record
// to the projections file; replay keeps only the last record per name, so
// the file grows but the in-memory (and logically visible) state never
// accumulates history.
func (s *Store) SaveProjection(_ context.Context, name string, cursor ident.EventID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := projectionRecord{Name: name, Cursor: cursor, State: json.RawMessage(state)}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("jsonl: marshal projection: %w", err)
	}
	line = append(line, '\n')
	if _, err := s.projF.Write(line); err != nil {
		return fmt.Errorf("jsonl: write projection: %w", err)
	}
	if err := s.projF.Sync(); err != nil {
		return fmt.Errorf("jsonl: sync projection: %w", err)
	}
	s.projections[name] = projectionSlot{cursor: cursor, state: state}
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

// Close releases the underlying file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err1 := s.f.Close()
	err2 := s.projF.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
