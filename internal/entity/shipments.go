package entity

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/remote"
	"github.com/waslni/shipsync/internal/retry"
)

// Shipments are the one entity kind with extra sync machinery: a tenant-scoped
// order-number duplicate guard before online inserts, bounded retries on
// transient update failures, the isPendingSync marker for offline creates,
// and local updated_at stamping after successful updates.

// shipmentUpdateRetry bounds transient-failure retries on shipment updates:
// three attempts, linear 1s backoff.
func shipmentUpdateRetry() retry.Policy {
	return retry.Policy{
		Attempts:  3,
		Backoff:   time.Second,
		Retryable: remote.IsTransient,
	}
}

// NewShipmentService builds the shipments service.
func NewShipmentService(rs remote.Store, local *localstore.Store, q *queue.Queue) *Service {
	return NewService(Config{
		Mapper:         ShipmentMapper(),
		Remote:         rs,
		Local:          local,
		Queue:          q,
		WriteRetry:     shipmentUpdateRetry(),
		Guard:          OrderNoGuard(rs),
		MarkPending:    true,
		StampUpdatedAt: true,
	})
}

// OrderNoGuard checks whether the tenant already has a shipment with the
// record's order number before an online insert. The order number is
// human-entered, so the duplicate case deserves a domain error instead of a
// raw constraint violation.
//
// The guard fails open: a probe error is treated as "not found" so a
// transient hiccup during the pre-flight check cannot block creation. The
// remote unique constraint remains the backstop.
func OrderNoGuard(rs remote.Store) Guard {
	return func(ctx context.Context, actor identity.Actor, rec Record) error {
		orderNo, _ := rec["orderNo"].(string)
		if orderNo == "" {
			return nil
		}

		rows, err := rs.Select(ctx, TableShipments, []remote.Filter{
			{Column: "company_id", Value: actor.CompanyID},
			{Column: "order_no", Value: orderNo},
		}, "")
		if err != nil {
			log.Warn().Err(err).Str("order_no", orderNo).
				Msg("duplicate check failed, proceeding with insert")
			return nil
		}
		if len(rows) > 0 {
			return &AlreadyExistsError{Table: TableShipments, Field: "orderNo", Value: orderNo}
		}
		return nil
	}
}
