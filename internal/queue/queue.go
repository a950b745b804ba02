// Package queue is the durable, ordered log of mutations recorded while
// offline. Entries replay in FIFO order; only the sync engine removes them.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/localstore"
)

// Op discriminates the mutation kind. One scheme for every entity: the table
// name carries the target, the op carries the verb.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Entry is one pending mutation. Payload shape depends on Op:
// INSERT carries the full domain record, UPDATE carries UpdatePayload,
// DELETE carries DeletePayload.
type Entry struct {
	Seq        int64
	ID         string
	Op         Op
	Table      string
	Payload    json.RawMessage
	TempID     string // set only for offline creates
	UserID     string
	CompanyID  string
	EnqueuedAt time.Time
}

// UpdatePayload is the payload of an UPDATE entry. Updates holds only the
// fields the caller changed.
type UpdatePayload struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
}

// DeletePayload is the payload of a DELETE entry.
type DeletePayload struct {
	ID string `json:"id"`
}

// Queue persists entries through the local store.
type Queue struct {
	store *localstore.Store
}

// New wraps the local store's queue table.
func New(store *localstore.Store) *Queue {
	return &Queue{store: store}
}

// Enqueue appends one entry. The entry id is assigned here; a failure to
// persist is fatal to the mutation and must be surfaced to the caller.
func (q *Queue) Enqueue(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	err := q.store.AppendQueueRow(localstore.QueueRow{
		ID:        e.ID,
		Op:        string(e.Op),
		Table:     e.Table,
		Payload:   e.Payload,
		TempID:    e.TempID,
		UserID:    e.UserID,
		CompanyID: e.CompanyID,
		CreatedAt: e.EnqueuedAt.Unix(),
	})
	if err != nil {
		return Entry{}, fmt.Errorf("enqueue %s %s: %w", e.Op, e.Table, err)
	}

	log.Debug().
		Str("entry_id", e.ID).
		Str("op", string(e.Op)).
		Str("table", e.Table).
		Msg("mutation queued")

	return e, nil
}

// Pending returns every entry in insertion order without removing any.
func (q *Queue) Pending() ([]Entry, error) {
	rows, err := q.store.QueueRows()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			Seq:        r.Seq,
			ID:         r.ID,
			Op:         Op(r.Op),
			Table:      r.Table,
			Payload:    json.RawMessage(r.Payload),
			TempID:     r.TempID,
			UserID:     r.UserID,
			CompanyID:  r.CompanyID,
			EnqueuedAt: time.Unix(r.CreatedAt, 0),
		})
	}
	return entries, nil
}

// Remove deletes a single replayed entry. Called by the sync engine only,
// after that entry's remote call succeeded.
func (q *Queue) Remove(id string) error {
	return q.store.DeleteQueueRow(id)
}

// Depth returns the number of pending entries.
func (q *Queue) Depth() (int, error) {
	return q.store.QueueDepth()
}
