// Package sync drains the pending action queue against the remote service.
package sync

import (
	"context"

	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Synchronize performs one drain pass. It never returns an error:
	// per-action failures are recorded on the queue and in the report.
	Synchronize(ctx context.Context) Report

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// Stats returns drain statistics since process start.
	Stats() models.SyncStats

	// PendingChanges returns the number of queued actions.
	PendingChanges() int
}

// Executor replays one pending action against the remote service. true
// means the action is confirmed and can leave the queue. An error with code
// DEFERRED means no call was made: the action stays queued untouched and the
// rest of its resource waits for the next pass.
type Executor func(ctx context.Context, action models.PendingAction) (bool, error)

// ActionQueue is the subset of the pending action store the engine drains.
type ActionQueue interface {
	List() []models.PendingAction
	Size() int
	IncrementRetry(id string, cause error) error
	DequeueAll(ids []string) int
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	Online() bool
}
