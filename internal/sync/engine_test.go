// Package sync tests for sync engine functionality.
package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/connectivity"
	apperrors "github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/queue"
)

// testEventHandler is a test implementation of SyncEventHandler.
type testEventHandler struct {
	mu     stdsync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *testEventHandler) types() []SyncEventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SyncEventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func enqueue(t *testing.T, q *queue.Store, typ models.ActionType, resourceID string) models.PendingAction {
	t.Helper()
	a, err := q.Enqueue(models.ActionInput{
		Type:       typ,
		Resource:   "companies",
		ResourceID: resourceID,
		Payload:    json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return a
}

// TestNewEngine verifies engine creation.
func TestNewEngine(t *testing.T) {
	engine := NewEngine(queue.NewStore(storage.NewMemoryStore()), connectivity.NewMonitor(true), nil)

	if engine.Status() != SyncStatusIdle {
		t.Errorf("status = %v, want SyncStatusIdle", engine.Status())
	}
	stats := engine.Stats()
	if stats.LastSyncAttempt != nil || stats.LastSuccessfulSync != nil {
		t.Error("timestamps should be nil initially")
	}
	if engine.PendingChanges() != 0 {
		t.Error("pending should be 0 initially")
	}
}

// TestSynchronize_mixedResults drains [create A, update B, delete C] where
// B fails: only B stays queued with one retry.
func TestSynchronize_mixedResults(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	monitor := connectivity.NewMonitor(false)

	a := enqueue(t, q, models.ActionCreate, "tmp-a")
	b := enqueue(t, q, models.ActionUpdate, "b")
	c := enqueue(t, q, models.ActionDelete, "c")

	var order []string
	executor := func(ctx context.Context, action models.PendingAction) (bool, error) {
		order = append(order, action.ID)
		return action.ID != b.ID, nil
	}
	engine := NewEngine(q, monitor, executor)

	if r := engine.Synchronize(context.Background()); r.Status != ReportOffline {
		t.Fatalf("offline Synchronize status = %s", r.Status)
	}
	if len(order) != 0 {
		t.Fatal("executor called while offline")
	}

	monitor.SetOnline(true)
	report := engine.Synchronize(context.Background())

	if report.Status != ReportCompleted || report.Attempted != 3 || report.Succeeded != 2 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(order) != 3 || order[0] != a.ID || order[1] != b.ID || order[2] != c.ID {
		t.Errorf("execution order = %v", order)
	}

	remaining := q.List()
	if len(remaining) != 1 || remaining[0].ID != b.ID {
		t.Fatalf("remaining = %+v", remaining)
	}
	if remaining[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", remaining[0].RetryCount)
	}

	stats := engine.Stats()
	if stats.SuccessCount != 2 || stats.ErrorCount != 1 || stats.PendingCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastSyncAttempt == nil || stats.LastSuccessfulSync == nil {
		t.Error("expected both sync timestamps")
	}
}

// TestSynchronize_nothingPending verifies an empty queue never calls the
// executor.
func TestSynchronize_nothingPending(t *testing.T) {
	calls := 0
	engine := NewEngine(queue.NewStore(storage.NewMemoryStore()), connectivity.NewMonitor(true),
		func(context.Context, models.PendingAction) (bool, error) {
			calls++
			return true, nil
		})

	if r := engine.Synchronize(context.Background()); r.Status != ReportNothingPending {
		t.Errorf("status = %s", r.Status)
	}
	if calls != 0 {
		t.Errorf("executor calls = %d", calls)
	}
	if engine.Stats().LastSyncAttempt != nil {
		t.Error("no-op pass should not stamp LastSyncAttempt")
	}
}

// TestSynchronize_alreadySyncing verifies concurrent triggers collapse into
// one pass.
func TestSynchronize_alreadySyncing(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	enqueue(t, q, models.ActionCreate, "tmp-a")

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	engine := NewEngine(q, connectivity.NewMonitor(true), func(context.Context, models.PendingAction) (bool, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return true, nil
	})

	done := make(chan Report)
	go func() { done <- engine.Synchronize(context.Background()) }()
	<-entered

	if engine.Status() != SyncStatusSyncing {
		t.Error("status should be syncing during a pass")
	}
	if r := engine.Synchronize(context.Background()); r.Status != ReportAlreadySyncing {
		t.Errorf("second Synchronize status = %s", r.Status)
	}

	close(release)
	if r := <-done; r.Succeeded != 1 {
		t.Errorf("first pass = %+v", r)
	}
	if calls.Load() != 1 {
		t.Errorf("executor calls = %d, want 1", calls.Load())
	}
}

// TestSynchronize_snapshot verifies actions enqueued mid-drain wait for the
// next pass.
func TestSynchronize_snapshot(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	enqueue(t, q, models.ActionCreate, "tmp-a")

	var late models.PendingAction
	engine := NewEngine(q, connectivity.NewMonitor(true), func(ctx context.Context, action models.PendingAction) (bool, error) {
		if late.ID == "" {
			late = enqueue(t, q, models.ActionUpdate, "x")
		}
		return true, nil
	})

	if r := engine.Synchronize(context.Background()); r.Attempted != 1 {
		t.Errorf("first pass attempted %d, want 1", r.Attempted)
	}
	if _, ok := q.Get(late.ID); !ok {
		t.Fatal("late action should still be queued")
	}
	if r := engine.Synchronize(context.Background()); r.Attempted != 1 || q.Size() != 0 {
		t.Errorf("second pass = %+v, size %d", r, q.Size())
	}
}

// TestSynchronize_errorsAndPanics verifies thrown errors and panics are
// failures that never abort the pass.
func TestSynchronize_errorsAndPanics(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	boom := enqueue(t, q, models.ActionCreate, "tmp-a")
	bad := enqueue(t, q, models.ActionUpdate, "b")
	good := enqueue(t, q, models.ActionDelete, "c")

	handler := &testEventHandler{}
	engine := NewEngine(q, connectivity.NewMonitor(true), func(ctx context.Context, action models.PendingAction) (bool, error) {
		switch action.ID {
		case boom.ID:
			panic("executor bug")
		case bad.ID:
			return true, stderrors.New("503 service unavailable")
		}
		return true, nil
	})
	engine.SetEventHandler(handler)

	report := engine.Synchronize(context.Background())
	if report.Failed != 2 || report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := q.Get(good.ID); ok {
		t.Error("succeeded action should be removed")
	}
	got, _ := q.Get(bad.ID)
	if got.LastError != "503 service unavailable" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if engine.IsSyncing() {
		t.Error("syncing flag should be cleared")
	}

	types := handler.types()
	want := []SyncEventType{EventSyncStarted, EventActionFailed, EventActionFailed, EventSyncCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

// TestSynchronize_allFail verifies LastSuccessfulSync stays unset.
func TestSynchronize_allFail(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	enqueue(t, q, models.ActionCreate, "tmp-a")

	engine := NewEngine(q, connectivity.NewMonitor(true), func(context.Context, models.PendingAction) (bool, error) {
		return false, nil
	})
	engine.SetEventHandler(SyncEventHandlerFunc(func(SyncEvent) { panic("handler bug") }))

	engine.Synchronize(context.Background())
	engine.Synchronize(context.Background())

	stats := engine.Stats()
	if stats.LastSyncAttempt == nil || stats.LastSuccessfulSync != nil {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", stats.ErrorCount)
	}
	if a := q.List()[0]; a.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", a.RetryCount)
	}
}

// TestSynchronize_canceled verifies a canceled context stops the pass
// without touching remaining actions.
func TestSynchronize_canceled(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	enqueue(t, q, models.ActionCreate, "tmp-a")
	enqueue(t, q, models.ActionCreate, "tmp-b")

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(q, connectivity.NewMonitor(true), func(context.Context, models.PendingAction) (bool, error) {
		cancel()
		return true, nil
	})
	engine.now = func() time.Time { return time.Unix(1700000000, 0) }

	report := engine.Synchronize(ctx)
	if report.Attempted != 1 || q.Size() != 1 {
		t.Errorf("report = %+v, size %d", report, q.Size())
	}
	if q.List()[0].RetryCount != 0 {
		t.Error("unattempted action should keep its retry count")
	}
}

// TestSynchronize_deferred verifies a deferred action parks the rest of its
// resource for the pass without retries, error counts or failure events,
// while other resources still drain.
func TestSynchronize_deferred(t *testing.T) {
	q := queue.NewStore(storage.NewMemoryStore())
	a1 := enqueue(t, q, models.ActionCreate, "tmp-a1")
	a2 := enqueue(t, q, models.ActionUpdate, "a2")
	p, err := q.Enqueue(models.ActionInput{Type: models.ActionPayment, Resource: "payments", Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	var calls []string
	engine := NewEngine(q, connectivity.NewMonitor(true), func(ctx context.Context, action models.PendingAction) (bool, error) {
		calls = append(calls, action.ID)
		if action.Resource == "companies" {
			return false, apperrors.New(apperrors.ErrDeferred, "call to companies deferred by guard")
		}
		return true, nil
	})
	handler := &testEventHandler{}
	engine.SetEventHandler(handler)

	report := engine.Synchronize(context.Background())
	if report.Attempted != 1 || report.Succeeded != 1 || report.Failed != 0 || report.Deferred != 2 {
		t.Errorf("report = %+v", report)
	}
	if len(calls) != 2 || calls[0] != a1.ID || calls[1] != p.ID {
		t.Errorf("executor calls = %v, want [%s %s]", calls, a1.ID, p.ID)
	}

	remaining := q.List()
	if len(remaining) != 2 || remaining[0].ID != a1.ID || remaining[1].ID != a2.ID {
		t.Fatalf("remaining = %+v", remaining)
	}
	for _, a := range remaining {
		if a.RetryCount != 0 || a.LastError != "" {
			t.Errorf("deferred action %s touched: retry=%d lastError=%q", a.ID, a.RetryCount, a.LastError)
		}
	}
	if stats := engine.Stats(); stats.ErrorCount != 0 || stats.SuccessCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	for _, typ := range handler.types() {
		if typ == EventActionFailed {
			t.Error("deferred action emitted a failure event")
		}
	}
}
