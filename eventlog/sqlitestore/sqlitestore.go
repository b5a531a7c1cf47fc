// Package sqlitestore implements eventlog.Store on top of modernc.org/sqlite,
// the other persistence contract spec.md §6 names alongside the NDJSON file
// format. It keeps the same append-then-publish ordering as the other
// backends: a transaction commits before any subscriber is notified.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/ident"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	global_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(stream_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_id, seq);

CREATE TABLE IF NOT EXISTS projections (
	name   TEXT PRIMARY KEY,
	cursor TEXT NOT NULL,
	state  TEXT NOT NULL
);
`

// Store is a SQLite-backed eventlog.Store.
type Store struct {
	db *sql.DB

	subMu  sync.Mutex
	subs   map[int]func(eventlog.StoredEvent)
	subSeq int
}

// Open opens (creating if necessary) a SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db, subs: make(map[int]func(eventlog.StoredEvent))}, nil
}

// Append implements eventlog.Store.
func (s *Store) Append(ctx context.Context, streamID ident.TaskID, events []eventlog.DomainEvent) ([]eventlog.StoredEvent, error) {
	if len(events) == 0 {
		return nil, eventlog.ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	var nextSeq uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE stream_id = ?`, string(streamID))
	if err := row.Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("sqlitestore: max seq: %w", err)
	}

	out := make([]eventlog.StoredEvent, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: marshal payload: %w", err)
		}
		nextSeq++
		res, err := tx.ExecContext(ctx,
			`INSERT INTO events(stream_id, seq, event_type, payload, created_at) VALUES (?, ?, ?, ?, datetime('now'))`,
			string(streamID), nextSeq, string(ev.EventType()), string(payload))
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: insert: %w", err)
		}
		globalID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: last insert id: %w", err)
		}
		out = append(out, eventlog.StoredEvent{
			ID:       ident.EventID(strconv.FormatInt(globalID, 10)),
			StreamID: streamID,
			Seq:      nextSeq,
			Type:     ev.EventType(),
			Payload:  ev,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlitestore: commit: %w", err)
	}

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
func (s *Store) ReadAll(ctx context.Context, afterID ident.EventID) ([]eventlog.StoredEvent, error) {
	after := int64(0)
	if afterID != "" {
		n, err := strconv.ParseInt(string(afterID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: invalid afterID: %w", err)
		}
		after = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT global_id, stream_id, seq, event_type, payload FROM events WHERE global_id > ? ORDER BY global_id ASC`, after)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadStream implements eventlog.Store.
func (s *Store) ReadStream(ctx context.Context, streamID ident.TaskID, fromSeq uint64) ([]eventlog.StoredEvent, error) {
	if fromSeq == 0 {
		fromSeq = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT global_id, stream_id, seq, event_type, payload FROM events WHERE stream_id = ? AND seq >= ? ORDER BY seq ASC`,
		string(streamID), fromSeq)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadByID implements eventlog.Store.
func (s *Store) ReadByID(ctx context.Context, id ident.EventID) (eventlog.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT global_id, stream_id, seq, event_type, payload FROM events WHERE global_id = ?`, string(id))
	var (
		globalID int64
		streamID string
		seq      uint64
		typ      string
		payload  string
	)
	if err := row.Scan(&globalID, &streamID, &seq, &typ, &payload); err == sql.ErrNoRows {
		return eventlog.StoredEvent{}, eventlog.ErrEventNotFound
	} else if err != nil {
		return eventlog.StoredEvent{}, fmt.Errorf("sqlitestore: scan: %w", err)
	}
	return decodeRow(globalID, streamID, seq, typ, payload)
}

func scanEvents(rows *sql.Rows) ([]eventlog.StoredEvent, error) {
	var out []eventlog.StoredEvent
	for rows.Next() {
		var (
			globalID int64
			streamID string
			seq      uint64
			typ      string
			payload  string
		)
		if err := rows.Scan(&globalID, &streamID, &seq, &typ, &payload); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan: %w", err)
		}
		se, err := decodeRow(globalID, streamID, seq, typ, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func decodeRow(globalID int64, streamID string, seq uint64, typ, payload string) (eventlog.StoredEvent, error) {
	p, err := decodePayload(eventlog.EventType(typ), []byte(payload))
	if err != nil {
		return eventlog.StoredEvent{}, err
	}
	return eventlog.StoredEvent{
		ID:       ident.EventID(strconv.FormatInt(globalID, 10)),
		StreamID: ident.TaskID(streamID),
		Seq:      seq,
		Type:     eventlog.EventType(typ),
		Payload:  p,
	}, nil
}

// GetProjection implements eventlog.Store.
func (s *Store) GetProjection(ctx context.Context, name string, def []byte) (ident.EventID, []byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cursor, state FROM projections WHERE name = ?`, name)
	var cursor, state string
	if err := row.Scan(&cursor, &state); err == sql.ErrNoRows {
		return "", def, nil
	} else if err != nil {
		return "", nil, fmt.Errorf("sqlitestore: get projection: %w", err)
	}
	return ident.EventID(cursor), []byte(state), nil
}

// SaveProjection implements eventlog.Store.
func (s *Store) SaveProjection(ctx context.Context, name string, cursor ident.EventID, state []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projections(name, cursor, state) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET cursor = excluded.cursor, state = excluded.state`,
		name, string(cursor), string(state))
	if err != nil {
		return fmt.Errorf("sqlitestore: save projection: %w", err)
	}
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

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
