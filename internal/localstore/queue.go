package localstore

import (
	"fmt"
	"time"
)

// AppendQueueRow appends one mutation entry to the durable queue. Seq is
// assigned by the database and defines FIFO replay order.
func (s *Store) AppendQueueRow(row QueueRow) error {
	createdAt := row.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	_, err := s.db.Exec(`
		INSERT INTO mutation_queue (id, op, tbl, payload, temp_id, user_id, company_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.Op, row.Table, string(row.Payload), row.TempID, row.UserID, row.CompanyID, createdAt)
	if err != nil {
		return fmt.Errorf("append queue entry: %w", err)
	}
	return nil
}

// QueueRows returns all pending entries in insertion order. Entries are not
// removed; removal happens entry-by-entry after successful replay.
func (s *Store) QueueRows() ([]QueueRow, error) {
	rows, err := s.db.Query(`
		SELECT seq, id, op, tbl, payload, temp_id, user_id, company_id, created_at
		FROM mutation_queue ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var r QueueRow
		var payload string
		if err := rows.Scan(&r.Seq, &r.ID, &r.Op, &r.Table, &payload, &r.TempID, &r.UserID, &r.CompanyID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		r.Payload = []byte(payload)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return out, nil
}

// DeleteQueueRow removes a single entry by its id.
func (s *Store) DeleteQueueRow(id string) error {
	res, err := s.db.Exec(`DELETE FROM mutation_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete queue entry %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete queue entry %s: not found", id)
	}
	return nil
}

// QueueDepth returns the number of pending entries.
func (s *Store) QueueDepth() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM mutation_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// PutResolvedID durably records a temp-to-server identifier resolution.
// A drain that fails after an insert replay must still rewrite dependent
// entries on the next cycle, so the mapping cannot live in memory only.
func (s *Store) PutResolvedID(tempID, serverID string) error {
	_, err := s.db.Exec(`
		INSERT INTO resolved_ids (temp_id, server_id) VALUES (?, ?)
		ON CONFLICT (temp_id) DO UPDATE SET server_id = excluded.server_id
	`, tempID, serverID)
	if err != nil {
		return fmt.Errorf("record resolved id %s: %w", tempID, err)
	}
	return nil
}

// ResolvedIDs returns every recorded temp-to-server resolution.
func (s *Store) ResolvedIDs() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT temp_id, server_id FROM resolved_ids`)
	if err != nil {
		return nil, fmt.Errorf("read resolved ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var tempID, serverID string
		if err := rows.Scan(&tempID, &serverID); err != nil {
			return nil, fmt.Errorf("scan resolved id: %w", err)
		}
		out[tempID] = serverID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read resolved ids: %w", err)
	}
	return out, nil
}

// ClearResolvedIDs drops the recorded resolutions. Called once the queue is
// fully drained and no pending entry can reference a temp identifier.
func (s *Store) ClearResolvedIDs() error {
	if _, err := s.db.Exec(`DELETE FROM resolved_ids`); err != nil {
		return fmt.Errorf("clear resolved ids: %w", err)
	}
	return nil
}
