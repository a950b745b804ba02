package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/waslni/shipsync/internal/entity"
	"github.com/waslni/shipsync/internal/identity"
	"github.com/waslni/shipsync/internal/localstore"
	"github.com/waslni/shipsync/internal/queue"
	"github.com/waslni/shipsync/internal/remote"
)

var testActor = identity.Actor{UserID: "u-1", CompanyID: "co-1"}

// fakeRemote is an in-memory remote.Store assigning sequential server ids.
type fakeRemote struct {
	mu     sync.Mutex
	tables map[string][]remote.Row
	nextID int

	insertErr  error
	insertHook func() error // per-insert failure injection
	updateErr  error
	deleteErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{tables: make(map[string][]remote.Row)}
}

func (f *fakeRemote) Select(ctx context.Context, table string, filters []remote.Filter, orderBy string) ([]remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []remote.Row
	for _, row := range f.tables[table] {
		match := true
		for _, flt := range filters {
			if row[flt.Column] != flt.Value {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRemote) Insert(ctx context.Context, table string, row remote.Row) (remote.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if f.insertHook != nil {
		if err := f.insertHook(); err != nil {
			return nil, err
		}
	}
	stored := make(remote.Row, len(row)+1)
	for k, v := range row {
		stored[k] = v
	}
	if _, ok := stored["id"]; !ok {
		f.nextID++
		stored["id"] = fmt.Sprintf("s-%d", f.nextID)
	}
	f.tables[table] = append(f.tables[table], stored)
	return stored, nil
}

func (f *fakeRemote) Update(ctx context.Context, table string, id any, changes remote.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for _, row := range f.tables[table] {
		if row["id"] == id {
			for k, v := range changes {
				row[k] = v
			}
			return nil
		}
	}
	return remote.ErrNoRowsAffected
}

func (f *fakeRemote) Delete(ctx context.Context, table string, id any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	rows := f.tables[table]
	for i, row := range rows {
		if row["id"] == id {
			f.tables[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

type fixture struct {
	remote   *fakeRemote
	local    *localstore.Store
	queue    *queue.Queue
	services *entity.Services
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("localstore.Open() error: %v", err)
	}
	t.Cleanup(func() { local.Close() })

	rs := newFakeRemote()
	q := queue.New(local)
	services := entity.NewServices(rs, local, q)

	engine := New(q, local)
	for _, svc := range services.All() {
		engine.Register(svc)
	}

	return &fixture{remote: rs, local: local, queue: q, services: services, engine: engine}
}

// The canonical offline window: create a driver offline, update it offline,
// reconnect. One remote record must exist reflecting both mutations, with no
// trace of the temp identifier anywhere.
func TestSyncResolvesTempIdentifiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.services.Drivers.Create(ctx, entity.Record{"name": "Ali", "plateNo": "123"}, false, testActor)
	if err != nil {
		t.Fatalf("offline create error: %v", err)
	}
	tempID := created["id"].(string)

	if err := f.services.Drivers.Update(ctx, tempID, entity.Record{"plateNo": "456"}, false, testActor); err != nil {
		t.Fatalf("offline update error: %v", err)
	}

	if depth, _ := f.queue.Depth(); depth != 2 {
		t.Fatalf("queue depth = %d before sync, want 2", depth)
	}

	result, err := f.engine.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Replayed != 2 {
		t.Errorf("Replayed = %d, want 2", result.Replayed)
	}

	// Exactly one remote record, reflecting create and update.
	rows := f.remote.tables[entity.TableDrivers]
	if len(rows) != 1 {
		t.Fatalf("remote holds %d drivers, want 1", len(rows))
	}
	if rows[0]["plate_no"] != "456" {
		t.Errorf("remote plate_no = %v, want 456", rows[0]["plate_no"])
	}
	if rows[0]["id"] == tempID {
		t.Error("remote row kept the temp identifier")
	}

	// Queue drained, snapshot reconciled, temp id gone.
	if depth, _ := f.queue.Depth(); depth != 0 {
		t.Errorf("queue depth = %d after sync, want 0", depth)
	}
	snapshot, _ := f.local.Snapshot(entity.TableDrivers)
	if len(snapshot) != 1 {
		t.Fatalf("snapshot holds %d drivers, want 1", len(snapshot))
	}
	if snapshot[0]["id"] == tempID {
		t.Error("snapshot kept the temp identifier after reconcile")
	}
	if snapshot[0]["plateNo"] != "456" {
		t.Errorf("snapshot plateNo = %v, want 456", snapshot[0]["plateNo"])
	}

	if f.engine.State() != StateIdle {
		t.Errorf("engine state = %s, want idle", f.engine.State())
	}
}

func TestSyncHaltsOnFailureAndPreservesTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Three offline creates; the remote store starts rejecting inserts
	// after the first replay succeeds.
	for _, name := range []string{"Ali", "Omar", "Sara"} {
		if _, err := f.services.Drivers.Create(ctx, entity.Record{"name": name}, false, testActor); err != nil {
			t.Fatalf("offline create error: %v", err)
		}
	}

	// First replay succeeds, everything after fails permanently.
	calls := 0
	permanent := errors.New("permission denied")
	f.remote.insertHook = func() error {
		calls++
		if calls > 1 {
			return permanent
		}
		return nil
	}

	_, err := f.engine.Sync(ctx)
	if err == nil {
		t.Fatal("Sync() error = nil, want replay failure")
	}
	if !errors.Is(err, permanent) {
		t.Errorf("Sync() error = %v, want wrapped permanent error", err)
	}

	// Entry 1 applied and removed; entries 2..3 preserved untouched.
	if len(f.remote.tables[entity.TableDrivers]) != 1 {
		t.Errorf("remote holds %d drivers, want 1", len(f.remote.tables[entity.TableDrivers]))
	}
	entries, _ := f.queue.Pending()
	if len(entries) != 2 {
		t.Fatalf("queue holds %d entries after failure, want 2", len(entries))
	}

	status := f.engine.Status()
	if status.State != StateIdle {
		t.Errorf("state = %s after failure, want idle", status.State)
	}
	if status.LastError == "" {
		t.Error("Status().LastError empty after failed cycle")
	}

	// The next cycle resumes at the failed entry.
	f.remote.insertHook = nil
	if _, err := f.engine.Sync(ctx); err != nil {
		t.Fatalf("retry Sync() error: %v", err)
	}
	if depth, _ := f.queue.Depth(); depth != 0 {
		t.Errorf("queue depth = %d after retry, want 0", depth)
	}
	if len(f.remote.tables[entity.TableDrivers]) != 3 {
		t.Errorf("remote holds %d drivers after retry, want 3", len(f.remote.tables[entity.TableDrivers]))
	}
}

// An offline create followed by an offline update of the same record, where
// the first cycle replays the insert but fails on the update. The recorded
// temp-to-server resolution must survive into the next cycle, or the queued
// update would target the temp id forever and wedge the queue.
func TestSyncResumesTempResolutionAcrossCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.services.Drivers.Create(ctx, entity.Record{"name": "Ali", "plateNo": "123"}, false, testActor)
	if err != nil {
		t.Fatalf("offline create error: %v", err)
	}
	tempID := created["id"].(string)
	if err := f.services.Drivers.Update(ctx, tempID, entity.Record{"plateNo": "456"}, false, testActor); err != nil {
		t.Fatalf("offline update error: %v", err)
	}

	// Cycle 1: the insert replays, then the dependent update fails.
	transient := errors.New("connection reset by peer")
	f.remote.updateErr = transient
	if _, err := f.engine.Sync(ctx); !errors.Is(err, transient) {
		t.Fatalf("Sync() error = %v, want wrapped transient error", err)
	}

	entries, _ := f.queue.Pending()
	if len(entries) != 1 || entries[0].Op != queue.OpUpdate {
		t.Fatalf("queue after failed cycle = %+v, want the single UPDATE entry", entries)
	}

	// Cycle 2: healthy. The update must land on the server id assigned in
	// cycle 1, not the temp id.
	f.remote.updateErr = nil
	if _, err := f.engine.Sync(ctx); err != nil {
		t.Fatalf("retry Sync() error: %v", err)
	}

	rows := f.remote.tables[entity.TableDrivers]
	if len(rows) != 1 {
		t.Fatalf("remote holds %d drivers, want 1", len(rows))
	}
	if rows[0]["plate_no"] != "456" {
		t.Errorf("remote plate_no = %v, want 456", rows[0]["plate_no"])
	}
	if depth, _ := f.queue.Depth(); depth != 0 {
		t.Errorf("queue depth = %d after retry, want 0", depth)
	}
}

// Same shape, but the interrupted resolution must also survive a process
// restart between the two cycles.
func TestSyncResumesTempResolutionAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	local, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("localstore.Open() error: %v", err)
	}

	rs := newFakeRemote()
	q := queue.New(local)
	services := entity.NewServices(rs, local, q)
	engine := New(q, local)
	for _, svc := range services.All() {
		engine.Register(svc)
	}

	ctx := context.Background()
	created, err := services.Drivers.Create(ctx, entity.Record{"name": "Ali"}, false, testActor)
	if err != nil {
		t.Fatalf("offline create error: %v", err)
	}
	tempID := created["id"].(string)
	if err := services.Drivers.Update(ctx, tempID, entity.Record{"name": "Ali 2"}, false, testActor); err != nil {
		t.Fatalf("offline update error: %v", err)
	}

	rs.updateErr = errors.New("connection reset by peer")
	if _, err := engine.Sync(ctx); err == nil {
		t.Fatal("Sync() error = nil, want update failure")
	}
	local.Close()

	reopened, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	rs.updateErr = nil
	q2 := queue.New(reopened)
	services2 := entity.NewServices(rs, reopened, q2)
	engine2 := New(q2, reopened)
	for _, svc := range services2.All() {
		engine2.Register(svc)
	}

	if _, err := engine2.Sync(ctx); err != nil {
		t.Fatalf("Sync() after reopen error: %v", err)
	}
	rows := rs.tables[entity.TableDrivers]
	if len(rows) != 1 || rows[0]["name"] != "Ali 2" {
		t.Errorf("remote rows after resumed drain = %v", rows)
	}
}

// noIDHandler replays inserts without ever yielding a server identifier.
type noIDHandler struct{}

func (noIDHandler) Table() string { return "orphan_table" }

func (noIDHandler) ApplyInsert(ctx context.Context, rec entity.Record, actor identity.Actor) (entity.Record, error) {
	return entity.Record{"name": "x"}, nil
}

func (noIDHandler) ApplyUpdate(ctx context.Context, id string, updates entity.Record) error {
	return nil
}

func (noIDHandler) ApplyDelete(ctx context.Context, id string) error { return nil }

func (noIDHandler) FetchAll(ctx context.Context, companyID string) ([]entity.Record, error) {
	return nil, nil
}

func TestSyncHaltsWhenInsertReplayYieldsNoServerID(t *testing.T) {
	f := newFixture(t)
	f.engine.Register(noIDHandler{})

	payload, _ := json.Marshal(entity.Record{"id": "temp-x", "name": "x"})
	if _, err := f.queue.Enqueue(queue.Entry{
		Op: queue.OpInsert, Table: "orphan_table", Payload: payload, TempID: "temp-x",
	}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if _, err := f.engine.Sync(context.Background()); err == nil {
		t.Fatal("Sync() error = nil, want missing-server-id failure")
	}
	// The entry must stay queued, not be removed as if it resolved.
	if depth, _ := f.queue.Depth(); depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestSyncCoalescesConcurrentCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocker := &blockingHandler{
		table:   "blocked_table",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.engine.Register(blocker)

	payload, _ := json.Marshal(entity.Record{"id": "temp-x"})
	if _, err := f.queue.Enqueue(queue.Entry{
		Op: queue.OpInsert, Table: "blocked_table", Payload: payload, TempID: "temp-x",
	}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Sync(ctx)
		done <- err
	}()

	<-blocker.started

	// Second trigger while the first cycle is replaying: must coalesce.
	if _, err := f.engine.Sync(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent Sync() error = %v, want ErrSyncInProgress", err)
	}

	close(blocker.release)
	if err := <-done; err != nil {
		t.Fatalf("first Sync() error: %v", err)
	}
}

func TestSyncCancelBetweenEntries(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	for _, name := range []string{"Ali", "Omar"} {
		if _, err := f.services.Drivers.Create(ctx, entity.Record{"name": name}, false, testActor); err != nil {
			t.Fatalf("offline create error: %v", err)
		}
	}

	// Cancel during the first replay: the first entry completes, the
	// second is never attempted.
	f.remote.insertHook = func() error {
		cancel()
		return nil
	}

	_, err := f.engine.Sync(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sync() error = %v, want context.Canceled", err)
	}

	if len(f.remote.tables[entity.TableDrivers]) != 1 {
		t.Errorf("remote holds %d drivers, want 1 (first entry only)", len(f.remote.tables[entity.TableDrivers]))
	}
	if depth, _ := f.queue.Depth(); depth != 1 {
		t.Errorf("queue depth = %d, want 1 (second entry preserved)", depth)
	}
	if f.engine.State() != StateIdle {
		t.Errorf("state = %s after cancel, want idle", f.engine.State())
	}
}

func TestSyncHaltsOnUnknownTable(t *testing.T) {
	f := newFixture(t)

	payload, _ := json.Marshal(entity.Record{"id": "temp-x"})
	if _, err := f.queue.Enqueue(queue.Entry{
		Op: queue.OpInsert, Table: "no_such_table", Payload: payload, TempID: "temp-x",
	}); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if _, err := f.engine.Sync(context.Background()); err == nil {
		t.Fatal("Sync() error = nil, want unknown-table failure")
	}
	// The entry must not be dropped.
	if depth, _ := f.queue.Depth(); depth != 1 {
		t.Errorf("queue depth = %d, want 1", depth)
	}
}

func TestReconcileOverwritesDivergedSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A concurrent writer changed the remote while we were offline.
	f.remote.tables[entity.TableDrivers] = []remote.Row{
		{"id": "d-9", "name": "External", "company_id": "co-1"},
	}

	if _, err := f.services.Drivers.Create(ctx, entity.Record{"name": "Ali"}, false, testActor); err != nil {
		t.Fatalf("offline create error: %v", err)
	}

	if _, err := f.engine.Sync(ctx); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	snapshot, _ := f.local.Snapshot(entity.TableDrivers)
	if len(snapshot) != 2 {
		t.Fatalf("snapshot holds %d drivers, want 2 (ours plus the external write)", len(snapshot))
	}
}

func TestSyncWithEmptyQueue(t *testing.T) {
	f := newFixture(t)

	result, err := f.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if result.Replayed != 0 || result.Reconciled != 0 {
		t.Errorf("empty-queue Sync() = %+v, want zero work", result)
	}
	if f.engine.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.engine.State())
	}
}

// blockingHandler parks inside ApplyInsert until released, to hold a cycle
// open for coalescing tests.
type blockingHandler struct {
	table   string
	started chan struct{}
	release chan struct{}
}

func (b *blockingHandler) Table() string { return b.table }

func (b *blockingHandler) ApplyInsert(ctx context.Context, rec entity.Record, actor identity.Actor) (entity.Record, error) {
	close(b.started)
	select {
	case <-b.release:
	case <-time.After(10 * time.Second):
	}
	return entity.Record{"id": "s-blocked"}, nil
}

func (b *blockingHandler) ApplyUpdate(ctx context.Context, id string, updates entity.Record) error {
	return nil
}

func (b *blockingHandler) ApplyDelete(ctx context.Context, id string) error {
	return nil
}

func (b *blockingHandler) FetchAll(ctx context.Context, companyID string) ([]entity.Record, error) {
	return nil, nil
}
