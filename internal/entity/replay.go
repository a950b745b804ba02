package entity

import (
	"context"

	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/remote"
)

// The Apply* methods are the replay surface the sync engine dispatches to.
// They hit the remote store only: queueing and optimistic projections are
// the engine's concern during a drain.

// ApplyInsert replays a queued offline create. The temp identifier is
// stripped so the server assigns the real one; the stored record is returned
// so the engine can patch the local snapshot and resolve later references.
func (s *Service) ApplyInsert(ctx context.Context, rec Record, actor identity.Actor) (Record, error) {
	rec = cloneRecord(rec)
	if id, ok := rec["id"].(string); ok && IsTempID(id) {
		delete(rec, "id")
	}
	if s.markPending {
		rec["isPendingSync"] = false
	}
	rec["companyId"] = actor.CompanyID
	rec["createdBy"] = actor.UserID

	row := s.mapper.ToRow(rec)
	var stored remote.Row
	err := s.writeRetry.Do(ctx, func() error {
		var ierr error
		stored, ierr = s.remote.Insert(ctx, s.mapper.Table(), row)
		return ierr
	})
	if err != nil {
		return nil, err
	}
	return s.mapper.FromRow(stored), nil
}

// ApplyUpdate replays a queued offline update.
func (s *Service) ApplyUpdate(ctx context.Context, id string, updates Record) error {
	changes := s.mapper.ToRow(updates)
	return s.writeRetry.Do(ctx, func() error {
		return s.remote.Update(ctx, s.mapper.Table(), id, changes)
	})
}

// ApplyDelete replays a queued offline delete.
func (s *Service) ApplyDelete(ctx context.Context, id string) error {
	return s.writeRetry.Do(ctx, func() error {
		return s.remote.Delete(ctx, s.mapper.Table(), id)
	})
}
