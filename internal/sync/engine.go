package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
)

// ReportStatus is the outcome of a Synchronize call.
type ReportStatus string

const (
	ReportOffline        ReportStatus = "offline"
	ReportNothingPending ReportStatus = "nothing_pending"
	ReportAlreadySyncing ReportStatus = "already_syncing"
	ReportCompleted      ReportStatus = "completed"
)

// Report represents the result of a drain pass.
type Report struct {
	Status    ReportStatus  `json:"status"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Deferred  int           `json:"deferred"`
	StartTime time.Time     `json:"start_time,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Ran reports whether the pass executed any action.
func (r Report) Ran() bool {
	return r.Status == ReportCompleted
}

// SyncEventType identifies a sync event.
type SyncEventType string

const (
	EventSyncStarted   SyncEventType = "sync.started"
	EventActionFailed  SyncEventType = "sync.action_failed"
	EventSyncCompleted SyncEventType = "sync.completed"
)

// SyncEvent is emitted during a drain pass.
type SyncEvent struct {
	Type       SyncEventType     `json:"type"`
	ActionID   string            `json:"action_id,omitempty"`
	ActionType models.ActionType `json:"action_type,omitempty"`
	RetryCount int               `json:"retry_count,omitempty"`
	Error      string            `json:"error,omitempty"`
	Report     *Report           `json:"report,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// SyncEventHandler receives sync events.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(SyncEvent)

// OnSyncEvent calls f.
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

// Engine drains the pending action queue through an Executor.
type Engine struct {
	queue   ActionQueue
	online  Connectivity
	execute Executor
	syncing atomic.Bool
	mu      stdsync.RWMutex
	stats   models.SyncStats
	handler SyncEventHandler
	now     func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(queue ActionQueue, online Connectivity, execute Executor) *Engine {
	return &Engine{
		queue:   queue,
		online:  online,
		execute: execute,
		now:     time.Now,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	if e.syncing.Load() {
		return SyncStatusSyncing
	}
	return SyncStatusIdle
}

// IsSyncing reports whether a drain pass is running.
func (e *Engine) IsSyncing() bool {
	return e.syncing.Load()
}

// PendingChanges returns the number of queued actions.
func (e *Engine) PendingChanges() int {
	return e.queue.Size()
}

// Stats returns a copy of the drain statistics.
func (e *Engine) Stats() models.SyncStats {
	e.mu.RLock()
	stats := e.stats
	e.mu.RUnlock()

	stats.PendingCount = e.queue.Size()
	return stats
}

// Synchronize runs one drain pass over a snapshot of the queue. It is a
// no-op when offline, when nothing is queued, or when a pass is already
// running. Actions enqueued during the pass wait for the next one.
func (e *Engine) Synchronize(ctx context.Context) Report {
	if !e.online.Online() {
		return Report{Status: ReportOffline}
	}
	if e.queue.Size() == 0 {
		return Report{Status: ReportNothingPending}
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return Report{Status: ReportAlreadySyncing}
	}
	defer e.syncing.Store(false)

	snapshot := e.queue.List()
	if len(snapshot) == 0 {
		return Report{Status: ReportNothingPending}
	}

	report := Report{Status: ReportCompleted, StartTime: e.now()}
	e.emit(SyncEvent{Type: EventSyncStarted})
	logging.Info("Sync started", map[string]interface{}{"pending": len(snapshot)})

	succeeded := make([]string, 0, len(snapshot))
	// Resources whose calls were deferred; their remaining actions keep
	// their place in the queue until the next pass.
	deferred := make(map[string]bool)
	for i, action := range snapshot {
		if ctx.Err() != nil {
			logging.Warn("Sync interrupted", map[string]interface{}{
				"remaining": len(snapshot) - i,
			})
			break
		}
		if deferred[action.Resource] {
			report.Deferred++
			continue
		}

		ok, err := e.run(ctx, action)
		if errors.Is(err, errors.ErrDeferred) {
			deferred[action.Resource] = true
			report.Deferred++
			logging.Debug("Pending action deferred", map[string]interface{}{
				"action_id": action.ID,
				"resource":  action.Resource,
			})
			continue
		}
		report.Attempted++
		if ok && err == nil {
			report.Succeeded++
			succeeded = append(succeeded, action.ID)
			continue
		}

		report.Failed++
		if err == nil {
			err = errors.New(errors.ErrQueueExecution, "executor reported failure")
		}
		if rerr := e.queue.IncrementRetry(action.ID, err); rerr != nil {
			logging.Error("Failed to record retry", rerr, map[string]interface{}{"action_id": action.ID})
		}
		logging.ErrorWithCode("Pending action failed", string(errors.ErrQueueExecution), err,
			map[string]interface{}{
				"action_id":   action.ID,
				"action_type": string(action.Type),
				"retry_count": action.RetryCount + 1,
			})
		e.emit(SyncEvent{
			Type:       EventActionFailed,
			ActionID:   action.ID,
			ActionType: action.Type,
			RetryCount: action.RetryCount + 1,
			Error:      err.Error(),
		})
	}

	e.queue.DequeueAll(succeeded)
	report.Duration = e.now().Sub(report.StartTime)
	e.record(report)

	logging.Info("Sync completed", map[string]interface{}{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"deferred":  report.Deferred,
	})
	r := report
	e.emit(SyncEvent{Type: EventSyncCompleted, Report: &r})
	return report
}

// run invokes the executor, turning a panic into a failure.
func (e *Engine) run(ctx context.Context, action models.PendingAction) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = errors.New(errors.ErrQueueExecution, fmt.Sprintf("executor panicked: %v", r))
		}
	}()
	return e.execute(ctx, action)
}

func (e *Engine) record(report Report) {
	e.mu.Lock()
	defer e.mu.Unlock()

	attempt := report.StartTime
	e.stats.LastSyncAttempt = &attempt
	e.stats.SuccessCount += report.Succeeded
	e.stats.ErrorCount += report.Failed
	if report.Succeeded > 0 {
		done := attempt.Add(report.Duration)
		e.stats.LastSuccessfulSync = &done
	}
}

func (e *Engine) emit(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Sync event handler panicked", fmt.Errorf("%v", r))
		}
	}()
	handler.OnSyncEvent(event)
}
