// Package localstore is the client-side durable cache: per-table entity
// snapshots plus the mutation queue log, both in a single SQLite file so that
// offline state survives process restarts.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// Record is a domain-shaped entity record (camelCase field names).
type Record = map[string]any

// QueueRow is the storage shape of one mutation queue entry. Seq is assigned
// on append and defines replay order.
type QueueRow struct {
	Seq       int64
	ID        string
	Op        string
	Table     string
	Payload   []byte
	TempID    string
	UserID    string
	CompanyID string
	CreatedAt int64
}

// Store wraps the SQLite file. A process holds exactly one Store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	tbl        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mutation_queue (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	op         TEXT NOT NULL,
	tbl        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	temp_id    TEXT NOT NULL DEFAULT '',
	user_id    TEXT NOT NULL DEFAULT '',
	company_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS resolved_ids (
	temp_id   TEXT PRIMARY KEY,
	server_id TEXT NOT NULL
);
`

// Open opens (creating if needed) the local database at path and initializes
// the schema. WAL keeps readers usable while a sync cycle writes. The driver
// only honors pragmas in its _pragma=name(value) form.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// A single writer avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init local store schema: %w", err)
	}

	log.Info().Str("path", path).Msg("local store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot returns the cached records for table, or nil if no snapshot was
// ever written.
func (s *Store) Snapshot(table string) ([]Record, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE tbl = ?`, table).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", table, err)
	}

	var records []Record
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", table, err)
	}
	return records, nil
}

// PutSnapshot replaces the snapshot for table wholesale. Used by fetch
// refreshes and by the reconcile phase.
func (s *Store) PutSnapshot(table string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", table, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (tbl, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (tbl) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, table, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", table, err)
	}
	return nil
}

// UpsertRecord inserts or replaces a single record in the table snapshot,
// matching on the "id" field.
func (s *Store) UpsertRecord(table string, record Record) error {
	records, err := s.Snapshot(table)
	if err != nil {
		return err
	}
	id := record["id"]
	replaced := false
	for i, r := range records {
		if r["id"] == id {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	return s.PutSnapshot(table, records)
}

// PatchRecord merges updates into the snapshot record with the given id.
// A missing record is not an error: the snapshot is a projection and may
// predate the record.
func (s *Store) PatchRecord(table string, id any, updates Record) error {
	records, err := s.Snapshot(table)
	if err != nil {
		return err
	}
	for i, r := range records {
		if r["id"] == id {
			for k, v := range updates {
				records[i][k] = v
			}
			return s.PutSnapshot(table, records)
		}
	}
	return nil
}

// DeleteRecord removes the snapshot record with the given id, if present.
func (s *Store) DeleteRecord(table string, id any) error {
	records, err := s.Snapshot(table)
	if err != nil {
		return err
	}
	for i, r := range records {
		if r["id"] == id {
			records = append(records[:i], records[i+1:]...)
			return s.PutSnapshot(table, records)
		}
	}
	return nil
}

// ReplaceRecord swaps the snapshot record carrying oldID for the given
// record. Used after replay to substitute a temp identifier with the
// server-assigned row.
func (s *Store) ReplaceRecord(table string, oldID any, record Record) error {
	records, err := s.Snapshot(table)
	if err != nil {
		return err
	}
	for i, r := range records {
		if r["id"] == oldID {
			records[i] = record
			return s.PutSnapshot(table, records)
		}
	}
	// Record was never projected locally; add it so the cache converges.
	records = append(records, record)
	return s.PutSnapshot(table, records)
}
