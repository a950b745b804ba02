package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/remote"
	"github.com/waslni/shipsync/internal/retry"
)

// Guard is a pre-flight check run before an online insert. Returning an error
// blocks the insert; guards must fail open on their own probe errors.
type Guard func(ctx context.Context, actor identity.Actor, rec Record) error

// Service is the generalized per-entity-kind service. Every mutating method
// takes an explicit isOnline flag: the service never queries connectivity
// itself, which keeps it testable without network mocks.
//
// Online mutations go straight to the remote store. Offline mutations write
// an optimistic projection into the local snapshot and append exactly one
// queue entry carrying the authoritative intended change.
type Service struct {
	mapper *Mapper
	remote remote.Store
	local  *localstore.Store
	queue  *queue.Queue

	writeRetry  retry.Policy
	guard       Guard
	markPending bool
	stampUpdate bool

	log zerolog.Logger
}

// Config assembles a Service.
type Config struct {
	Mapper *Mapper
	Remote remote.Store
	Local  *localstore.Store
	Queue  *queue.Queue

	// WriteRetry bounds retries of online updates on transient network
	// errors. The zero value disables retries.
	WriteRetry retry.Policy

	// Guard, when set, runs before every online insert.
	Guard Guard

	// MarkPending stamps offline-created records with isPendingSync until
	// the server confirms their identity.
	MarkPending bool

	// StampUpdatedAt mirrors the remote updated_at trigger into the local
	// projection after a successful online update.
	StampUpdatedAt bool
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	return &Service{
		mapper:      cfg.Mapper,
		remote:      cfg.Remote,
		local:       cfg.Local,
		queue:       cfg.Queue,
		writeRetry:  cfg.WriteRetry,
		guard:       cfg.Guard,
		markPending: cfg.MarkPending,
		stampUpdate: cfg.StampUpdatedAt,
		log:         log.With().Str("table", cfg.Mapper.Table()).Logger(),
	}
}

// Table returns the remote table this service owns.
func (s *Service) Table() string {
	return s.mapper.Table()
}

// FetchAll reads the tenant's records from the remote store and refreshes
// the local snapshot on success. Fetch errors propagate; falling back to the
// snapshot is the caller's decision, made only when the connectivity monitor
// says the client is offline.
func (s *Service) FetchAll(ctx context.Context, companyID string) ([]Record, error) {
	rows, err := s.remote.Select(ctx, s.mapper.Table(),
		[]remote.Filter{{Column: "company_id", Value: companyID}}, "created_at")
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, s.mapper.FromRow(row))
	}

	if err := s.local.PutSnapshot(s.mapper.Table(), records); err != nil {
		return nil, err
	}
	return records, nil
}

// Cached returns the last-known local snapshot. Always readable, even with
// zero connectivity; nil when nothing was ever fetched.
func (s *Service) Cached() ([]Record, error) {
	return s.local.Snapshot(s.mapper.Table())
}

// Create inserts a new record. Online, the insert goes to the remote store
// and the stored row (with its server-assigned id) is returned. Offline, a
// temp id is synthesized, the optimistic record lands in the snapshot, and
// one INSERT entry is queued.
func (s *Service) Create(ctx context.Context, rec Record, isOnline bool, actor identity.Actor) (Record, error) {
	rec = cloneRecord(rec)
	rec["companyId"] = actor.CompanyID
	rec["createdBy"] = actor.UserID

	if isOnline {
		if s.guard != nil {
			if err := s.guard(ctx, actor, rec); err != nil {
				return nil, err
			}
		}

		stored, err := s.remote.Insert(ctx, s.mapper.Table(), s.mapper.ToRow(rec))
		if err != nil {
			return nil, err
		}
		created := s.mapper.FromRow(stored)
		if err := s.local.UpsertRecord(s.mapper.Table(), created); err != nil {
			return nil, err
		}
		return created, nil
	}

	tempID := NewTempID()
	rec["id"] = tempID
	rec["createdAt"] = time.Now().UTC().Format(time.RFC3339)
	if s.markPending {
		rec["isPendingSync"] = true
	}

	// Queue first: the entry is the durable intent. A projection write that
	// fails afterwards diverges at worst until the next reconcile, whereas a
	// projected record with no queue entry would never reach the server.
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s create: %w", s.mapper.Table(), err)
	}
	if _, err := s.queue.Enqueue(queue.Entry{
		Op:        queue.OpInsert,
		Table:     s.mapper.Table(),
		Payload:   payload,
		TempID:    tempID,
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
	}); err != nil {
		return nil, err
	}
	if err := s.local.UpsertRecord(s.mapper.Table(), rec); err != nil {
		return nil, err
	}

	s.log.Info().Str("temp_id", tempID).Msg("offline create queued")
	return rec, nil
}

// Update applies a partial change to the record with the given id. Online
// updates surface zero-rows-affected as an error rather than a silent no-op.
// Offline updates queue the change and patch the local projection.
func (s *Service) Update(ctx context.Context, id string, updates Record, isOnline bool, actor identity.Actor) error {
	updates = cloneRecord(updates)

	if isOnline {
		changes := s.mapper.ToRow(updates)
		err := s.writeRetry.Do(ctx, func() error {
			return s.remote.Update(ctx, s.mapper.Table(), id, changes)
		})
		if err != nil {
			return err
		}
		if s.stampUpdate {
			// The remote trigger stamped updated_at server-side; mirror
			// it locally so the projection does not lag a full refetch.
			updates["updatedAt"] = time.Now().UTC().Format(time.RFC3339)
		}
		return s.local.PatchRecord(s.mapper.Table(), id, updates)
	}

	payload, err := json.Marshal(queue.UpdatePayload{ID: id, Updates: updates})
	if err != nil {
		return fmt.Errorf("encode %s update: %w", s.mapper.Table(), err)
	}
	// Queue before patching: the local record is only a projection of the
	// queued intent.
	if _, err := s.queue.Enqueue(queue.Entry{
		Op:        queue.OpUpdate,
		Table:     s.mapper.Table(),
		Payload:   payload,
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
	}); err != nil {
		return err
	}
	return s.local.PatchRecord(s.mapper.Table(), id, updates)
}

// Delete removes the record with the given id, remotely when online,
// otherwise queueing the delete and dropping the local projection.
func (s *Service) Delete(ctx context.Context, id string, isOnline bool, actor identity.Actor) error {
	if isOnline {
		if err := s.remote.Delete(ctx, s.mapper.Table(), id); err != nil {
			return err
		}
		return s.local.DeleteRecord(s.mapper.Table(), id)
	}

	payload, err := json.Marshal(queue.DeletePayload{ID: id})
	if err != nil {
		return fmt.Errorf("encode %s delete: %w", s.mapper.Table(), err)
	}
	if _, err := s.queue.Enqueue(queue.Entry{
		Op:        queue.OpDelete,
		Table:     s.mapper.Table(),
		Payload:   payload,
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
	}); err != nil {
		return err
	}
	return s.local.DeleteRecord(s.mapper.Table(), id)
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
