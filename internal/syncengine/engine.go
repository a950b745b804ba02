// Package syncengine drains the mutation queue against the remote store and
// reconciles the local snapshots afterwards.
//
// A sync cycle moves Idle → Draining → ReplayingEntry (per entry) →
// Reconciling → Idle, with Failed reachable from ReplayingEntry. Replay is
// strictly FIFO; a failed entry halts the drain and preserves the tail for
// the next cycle. Cancellation is honored only between entries so a replay
// call never aborts mid-flight.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waslni/shipsync/internal/entity"
	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/metrics"
	"github.com/waslni/shipsync/internal/queue"
)

// State is the engine's position in the sync cycle.
type State string

const (
	StateIdle        State = "idle"
	StateDraining    State = "draining"
	StateReplaying   State = "replaying"
	StateReconciling State = "reconciling"
	StateFailed      State = "failed"
)

// ErrSyncInProgress is returned when a cycle is requested while one is
// already running. Triggers racing an in-flight cycle coalesce into this
// no-op; the running cycle already drains everything queued before it
// started.
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// Handler is the per-entity-kind replay surface, implemented by
// entity.Service. The engine dispatches queue entries to the handler
// registered for the entry's table.
type Handler interface {
	Table() string
	ApplyInsert(ctx context.Context, rec entity.Record, actor identity.Actor) (entity.Record, error)
	ApplyUpdate(ctx context.Context, id string, updates entity.Record) error
	ApplyDelete(ctx context.Context, id string) error
	FetchAll(ctx context.Context, companyID string) ([]entity.Record, error)
}

// Result summarizes one sync cycle.
type Result struct {
	Replayed   int
	Reconciled int
	StartedAt  time.Time
	Duration   time.Duration
}

// Status is the engine's externally visible state, served by the control API.
type Status struct {
	State      State      `json:"state"`
	Pending    int        `json:"pending"`
	LastSyncAt *time.Time `json:"lastSyncAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}

// Engine owns the drain/replay/reconcile cycle. It is the only component
// that removes queue entries.
type Engine struct {
	queue    *queue.Queue
	local    *localstore.Store
	handlers map[string]Handler

	running sync.Mutex // held for the duration of a cycle

	mu       sync.RWMutex
	state    State
	lastSync *time.Time
	lastErr  error

	log zerolog.Logger
}

// New creates an engine with no handlers registered.
func New(q *queue.Queue, local *localstore.Store) *Engine {
	return &Engine{
		queue:    q,
		local:    local,
		handlers: make(map[string]Handler),
		state:    StateIdle,
		log:      log.With().Str("component", "syncengine").Logger(),
	}
}

// Register adds the replay handler for one entity table. Entries for tables
// with no handler halt the drain rather than being dropped.
func (e *Engine) Register(h Handler) {
	e.handlers[h.Table()] = h
}

// State returns the engine's current cycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Status snapshots the engine state for the control API.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := Status{State: e.state, LastSyncAt: e.lastSync}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	if depth, err := e.queue.Depth(); err == nil {
		st.Pending = depth
	}
	return st
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Sync runs one full cycle. Concurrent calls coalesce: the second caller
// gets ErrSyncInProgress and nothing else happens. A replay failure leaves
// every unprocessed entry queued and returns the error after the engine
// passes through Failed back to Idle.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.running.Unlock()

	start := time.Now()
	result := &Result{StartedAt: start}
	defer func() {
		result.Duration = time.Since(start)
		metrics.SyncDuration.Observe(result.Duration.Seconds())
		if depth, err := e.queue.Depth(); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}()

	e.setState(StateDraining)
	entries, err := e.queue.Pending()
	if err != nil {
		return result, e.fail(err)
	}
	e.log.Info().Int("entries", len(entries)).Msg("sync cycle started")

	// Temp identifiers resolved by queued inserts: later entries that
	// reference one are rewritten before their own replay. The map is loaded
	// from the local store so resolutions recorded by a previous, partially
	// failed cycle still apply when the drain resumes.
	resolved, err := e.local.ResolvedIDs()
	if err != nil {
		return result, e.fail(err)
	}
	affected := make(map[string]string) // table -> tenant

	for _, entry := range entries {
		// Abort is allowed only on entry boundaries; the queue stays
		// drain-resumable.
		select {
		case <-ctx.Done():
			e.setState(StateIdle)
			return result, ctx.Err()
		default:
		}

		e.setState(StateReplaying)
		if err := e.replayEntry(ctx, entry, resolved); err != nil {
			metrics.EntriesReplayed.WithLabelValues(entry.Table, "error").Inc()
			metrics.SyncCycles.WithLabelValues("failed").Inc()
			return result, e.fail(fmt.Errorf("replay %s entry %s: %w", entry.Table, entry.ID, err))
		}
		metrics.EntriesReplayed.WithLabelValues(entry.Table, "ok").Inc()
		result.Replayed++
		affected[entry.Table] = entry.CompanyID
	}

	// Once the queue is empty nothing can reference a temp identifier, so
	// the recorded resolutions can go. Entries enqueued mid-drain keep them
	// until the next full drain.
	if depth, err := e.queue.Depth(); err == nil && depth == 0 {
		if err := e.local.ClearResolvedIDs(); err != nil {
			return result, e.fail(err)
		}
	}

	e.setState(StateReconciling)
	for table, companyID := range affected {
		select {
		case <-ctx.Done():
			e.setState(StateIdle)
			return result, ctx.Err()
		default:
		}

		h := e.handlers[table]
		// FetchAll overwrites the snapshot with the authoritative remote
		// state, collapsing any divergence from concurrent writers.
		if _, err := h.FetchAll(ctx, companyID); err != nil {
			metrics.SyncCycles.WithLabelValues("failed").Inc()
			return result, e.fail(fmt.Errorf("reconcile %s: %w", table, err))
		}
		result.Reconciled++
	}

	now := time.Now()
	e.mu.Lock()
	e.state = StateIdle
	e.lastSync = &now
	e.lastErr = nil
	e.mu.Unlock()

	metrics.SyncCycles.WithLabelValues("ok").Inc()
	e.log.Info().
		Int("replayed", result.Replayed).
		Int("reconciled", result.Reconciled).
		Dur("duration", time.Since(start)).
		Msg("sync cycle completed")
	return result, nil
}

// fail records the error, reports it, and settles back to Idle so the next
// trigger can retry. The queue is left exactly as the failure found it.
func (e *Engine) fail(err error) error {
	e.mu.Lock()
	e.state = StateFailed
	e.lastErr = err
	e.mu.Unlock()

	e.log.Error().Err(err).Msg("sync cycle failed, queue preserved")

	e.setState(StateIdle)
	return err
}

// replayEntry applies one queue entry against the remote store and removes
// it on success. Insert replays also patch the local snapshot, swapping the
// temp identifier for the server-assigned record.
func (e *Engine) replayEntry(ctx context.Context, entry queue.Entry, resolved map[string]string) error {
	h, ok := e.handlers[entry.Table]
	if !ok {
		return fmt.Errorf("no handler registered for table %s", entry.Table)
	}

	actor := identity.Actor{UserID: entry.UserID, CompanyID: entry.CompanyID}

	switch entry.Op {
	case queue.OpInsert:
		var rec entity.Record
		if err := json.Unmarshal(entry.Payload, &rec); err != nil {
			return fmt.Errorf("decode insert payload: %w", err)
		}

		created, err := h.ApplyInsert(ctx, rec, actor)
		if err != nil {
			return err
		}
		// A replayed insert must yield a usable server identifier; without
		// one, dependent entries could never be rewritten off the temp id.
		serverID, _ := created["id"].(string)
		if serverID == "" {
			return fmt.Errorf("insert replay for %s returned no server id", entry.Table)
		}
		if entry.TempID != "" {
			// Recorded durably before the entry is removed, so a drain
			// that fails later still rewrites dependents next cycle.
			if err := e.local.PutResolvedID(entry.TempID, serverID); err != nil {
				return err
			}
			resolved[entry.TempID] = serverID
			if err := e.local.ReplaceRecord(entry.Table, entry.TempID, created); err != nil {
				return err
			}
		}

	case queue.OpUpdate:
		var p queue.UpdatePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode update payload: %w", err)
		}
		id := p.ID
		if serverID, ok := resolved[id]; ok {
			id = serverID
		}
		if err := h.ApplyUpdate(ctx, id, p.Updates); err != nil {
			return err
		}

	case queue.OpDelete:
		var p queue.DeletePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		id := p.ID
		if serverID, ok := resolved[id]; ok {
			id = serverID
		}
		if err := h.ApplyDelete(ctx, id); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown queue op %q", entry.Op)
	}

	// Removal is per-entry so a crash mid-drain neither loses nor
	// duplicates already-applied entries. A removal failure is a local
	// store I/O error and halts the drain like any replay failure.
	return e.queue.Remove(entry.ID)
}
