// Package queue provides the durable FIFO of pending actions awaiting
// confirmed remote execution.
package queue

import (
	"sync"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
	"github.com/kimhsiao/ledgerdesk/backend/internal/uuid"
)

// StorageKey is the key the queue is persisted under.
const StorageKey = "pending_actions"

// Store is an ordered, persisted list of PendingActions. It is the only
// path to StorageKey; every method is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	items   []models.PendingAction
	backing storage.Store
	now     func() time.Time
}

// NewStore creates a Store hydrated from backing. Absent or corrupt data
// yields an empty queue.
func NewStore(backing storage.Store) *Store {
	items, err := storage.LoadArray[models.PendingAction](backing, StorageKey)
	if err != nil {
		logging.Warn("Pending actions unreadable, starting with empty queue", map[string]interface{}{
			"key":   StorageKey,
			"error": err.Error(),
		})
	}
	return &Store{
		items:   items,
		backing: backing,
		now:     time.Now,
	}
}

// persist writes the full queue. Caller must hold mu.
func (q *Store) persist() error {
	return storage.SaveArray(q.backing, StorageKey, q.items)
}

// Enqueue assigns an id and timestamp to in, appends it and persists the
// queue. On a persist failure the action is still queued in memory and the
// STORAGE_ERROR is returned alongside it.
func (q *Store) Enqueue(in models.ActionInput) (models.PendingAction, error) {
	if !in.Type.Valid() {
		return models.PendingAction{}, errors.New(errors.ErrInvalid, "unknown action type "+string(in.Type))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	action := models.PendingAction{
		ID:         uuid.New(),
		Type:       in.Type,
		Resource:   in.Resource,
		ResourceID: in.ResourceID,
		Payload:    in.Payload,
		Timestamp:  q.now().UnixMilli(),
	}
	action = action.Clone()
	q.items = append(q.items, action)

	logging.Debug("Enqueued pending action", map[string]interface{}{
		"id":       action.ID,
		"type":     string(action.Type),
		"resource": action.Resource,
		"size":     len(q.items),
	})

	if err := q.persist(); err != nil {
		logging.ErrorWithCode("Failed to persist pending actions", string(errors.ErrStorage), err)
		return action.Clone(), err
	}
	return action.Clone(), nil
}

// Dequeue removes the action with id and persists the queue.
func (q *Store) Dequeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return errors.New(errors.ErrNotFound, "pending action "+id+" not found")
	}
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return q.persist()
}

// DequeueAll removes every listed action with a single persist and returns
// how many were removed. Unknown ids are ignored.
func (q *Store) DequeueAll(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, a := range q.items {
		if _, ok := drop[a.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	q.items = kept

	if removed > 0 {
		if err := q.persist(); err != nil {
			logging.ErrorWithCode("Failed to persist pending actions", string(errors.ErrStorage), err)
		}
	}
	return removed
}

// IncrementRetry bumps the retry count of id and records cause.
func (q *Store) IncrementRetry(id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return errors.New(errors.ErrNotFound, "pending action "+id+" not found")
	}
	q.items[idx].RetryCount++
	if cause != nil {
		q.items[idx].LastError = cause.Error()
	}
	return q.persist()
}

// RebindResource rewrites ResourceID on actions for resource that still
// reference oldID. Used when a temporary id is confirmed by the server.
func (q *Store) RebindResource(resource, oldID, newID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for i := range q.items {
		if q.items[i].Resource == resource && q.items[i].ResourceID == oldID {
			q.items[i].ResourceID = newID
			n++
		}
	}
	if n > 0 {
		if err := q.persist(); err != nil {
			logging.ErrorWithCode("Failed to persist pending actions", string(errors.ErrStorage), err)
		}
	}
	return n
}

// Get returns a copy of the action with id.
func (q *Store) Get(id string) (models.PendingAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOf(id)
	if idx < 0 {
		return models.PendingAction{}, false
	}
	return q.items[idx].Clone(), true
}

// List returns a snapshot of the queue in FIFO order.
func (q *Store) List() []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.PendingAction, len(q.items))
	for i, a := range q.items {
		out[i] = a.Clone()
	}
	return out
}

// ListByType returns the queued actions of type t in FIFO order.
func (q *Store) ListByType(t models.ActionType) []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := []models.PendingAction{}
	for _, a := range q.items {
		if a.Type == t {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Size returns the number of queued actions.
func (q *Store) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HasPending reports whether the queue is non-empty.
func (q *Store) HasPending() bool {
	return q.Size() > 0
}

// Clear removes all actions.
func (q *Store) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = []models.PendingAction{}
	logging.Info("Pending action queue cleared")
	return q.persist()
}

// Stats returns queue counts keyed by action type plus "total".
func (q *Store) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{"total": len(q.items)}
	for _, a := range q.items {
		stats[string(a.Type)]++
	}
	return stats
}

func (q *Store) indexOf(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}
