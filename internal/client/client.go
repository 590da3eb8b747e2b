// Package client provides the offline-first data client. Reads fall back to
// the local cache and writes succeed optimistically when the remote service
// is unreachable, with the mutation queued for later replay.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/guard"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/conflict"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/queue"
	"github.com/kimhsiao/ledgerdesk/backend/internal/uuid"
)

// Transport performs the remote calls for a resource collection.
type Transport interface {
	List(ctx context.Context, resource string) ([]models.Record, error)
	Create(ctx context.Context, resource string, rec models.Record) (models.Record, error)
	Update(ctx context.Context, resource, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, resource, id string) error
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	Online() bool
}

// Options configures a Client.
type Options struct {
	Transport Transport
	Monitor   Connectivity
	Queue     *queue.Store
	Cache     *Cache
	Guards    *guard.Registry    // default: one guard per resource with guard.RequestConfig
	Resolver  *conflict.Resolver // default: last write wins

	// FoldPermanentFailures makes PERMANENT and PERMISSION_DENIED
	// responses take the optimistic path like transient failures.
	FoldPermanentFailures bool
}

// Client is the offline-first data client.
type Client struct {
	transport     Transport
	monitor       Connectivity
	queue         *queue.Store
	cache         *Cache
	guards        *guard.Registry
	resolver      *conflict.Resolver
	foldPermanent bool
	now           func() time.Time
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil || opts.Monitor == nil || opts.Queue == nil || opts.Cache == nil {
		return nil, errors.New(errors.ErrInvalid, "client requires transport, monitor, queue and cache")
	}
	if opts.Guards == nil {
		opts.Guards = guard.NewRegistry(guard.RequestConfig(), nil)
	}
	if opts.Resolver == nil {
		opts.Resolver = conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins)
	}
	return &Client{
		transport:     opts.Transport,
		monitor:       opts.Monitor,
		queue:         opts.Queue,
		cache:         opts.Cache,
		guards:        opts.Guards,
		resolver:      opts.Resolver,
		foldPermanent: opts.FoldPermanentFailures,
		now:           time.Now,
	}, nil
}

// Cache returns the client's local cache.
func (c *Client) Cache() *Cache {
	return c.cache
}

// call runs fn through the resource's guard. refused reports a silent skip.
func (c *Client) call(ctx context.Context, resource string, fn func(context.Context) error) (refused bool, err error) {
	ran, err := c.guards.Get(resource).Do(ctx, fn)
	if !ran && err == nil {
		return true, nil
	}
	return false, err
}

// fallback reports whether a failed network write may take the optimistic
// offline path.
func (c *Client) fallback(err error) bool {
	code := errors.Classify(err)
	if errors.IsFallbackEligible(code) {
		return true
	}
	switch code {
	case errors.ErrPermanent, errors.ErrPermission:
		return c.foldPermanent
	}
	return false
}

// hasQueued reports whether actions for the record are still waiting.
// Such records are written through the queue so their actions replay in
// order.
func (c *Client) hasQueued(resource, id string) bool {
	for _, a := range c.queue.List() {
		if a.Resource == resource && a.ResourceID == id {
			return true
		}
	}
	return false
}

func (c *Client) stamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// =====================================================
// Reads
// =====================================================

// ReadCollection returns the records of resource. Offline, refused or
// failed reads serve the cache; an error is returned only when the network
// failed and nothing was ever cached.
func (c *Client) ReadCollection(ctx context.Context, resource string) ([]models.Record, error) {
	if !c.monitor.Online() {
		return c.cache.Collection(resource), nil
	}

	var records []models.Record
	refused, err := c.call(ctx, resource, func(ctx context.Context) error {
		var err error
		records, err = c.transport.List(ctx, resource)
		return err
	})
	if refused {
		return c.cache.Collection(resource), nil
	}
	if err != nil {
		if !c.cache.Has(resource) {
			return nil, err
		}
		logging.Warn("Serving cached collection", map[string]interface{}{
			"resource": resource,
			"error":    err.Error(),
		})
		return c.cache.Collection(resource), nil
	}

	records = c.overlayPending(resource, records)
	if err := c.cache.Replace(resource, records); err != nil {
		logging.Error("Failed to cache collection", err, map[string]interface{}{"resource": resource})
	}
	return records, nil
}

// overlayPending applies unconfirmed local writes on top of a fresh server
// collection so queued edits stay visible.
func (c *Client) overlayPending(resource string, server []models.Record) []models.Record {
	deleted := make(map[string]bool)
	edited := make(map[string]bool)
	for _, a := range c.queue.List() {
		if a.Resource != resource {
			continue
		}
		switch a.Type {
		case models.ActionDelete:
			deleted[a.ResourceID] = true
		case models.ActionUpdate, models.ActionStatusChange:
			edited[a.ResourceID] = true
		}
	}

	out := make([]models.Record, 0, len(server))
	seen := make(map[string]bool, len(server))
	for _, rec := range server {
		id := rec.ID()
		seen[id] = true
		if deleted[id] {
			continue
		}
		if edited[id] {
			if local, ok := c.cache.Get(resource, id); ok {
				rec = local
			}
		}
		out = append(out, rec)
	}
	for _, rec := range c.cache.Collection(resource) {
		if rec.IsOfflineCreated() && !seen[rec.ID()] {
			out = append(out, rec)
		}
	}
	return out
}

// =====================================================
// Writes
// =====================================================

// Create adds a record.
func (c *Client) Create(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	return c.create(ctx, models.ActionCreate, resource, rec)
}

// Upload adds a record carrying an upload (file metadata, attachment).
func (c *Client) Upload(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	return c.create(ctx, models.ActionUpload, resource, rec)
}

// RecordPayment adds a payment record.
func (c *Client) RecordPayment(ctx context.Context, resource string, rec models.Record) (models.Record, error) {
	return c.create(ctx, models.ActionPayment, resource, rec)
}

func (c *Client) create(ctx context.Context, typ models.ActionType, resource string, rec models.Record) (models.Record, error) {
	if !c.monitor.Online() {
		return c.createOffline(typ, resource, rec)
	}

	var created models.Record
	refused, err := c.call(ctx, resource, func(ctx context.Context) error {
		var err error
		created, err = c.transport.Create(ctx, resource, outgoing(rec))
		return err
	})
	if refused {
		return c.createOffline(typ, resource, rec)
	}
	if err != nil {
		if c.fallback(err) {
			logging.Warn("Create failed, storing offline", map[string]interface{}{
				"resource": resource,
				"error":    err.Error(),
			})
			return c.createOffline(typ, resource, rec)
		}
		return nil, err
	}

	if err := c.cache.Append(resource, created); err != nil {
		logging.Error("Failed to cache created record", err, map[string]interface{}{"resource": resource})
	}
	return created, nil
}

// createOffline assigns a temporary id, caches the record and queues it.
func (c *Client) createOffline(typ models.ActionType, resource string, rec models.Record) (models.Record, error) {
	payload, err := json.Marshal(outgoing(rec))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "encode record", err)
	}

	local := rec.Clone()
	if local == nil {
		local = models.Record{}
	}
	tempID := uuid.NewTemporary()
	local[models.FieldID] = tempID
	local[models.FieldOfflineCreated] = true
	local[models.FieldOfflineCreatedAt] = c.stamp()

	if err := c.cache.Append(resource, local); err != nil {
		logging.Error("Failed to cache offline record", err, map[string]interface{}{"resource": resource})
	}
	c.enqueue(models.ActionInput{Type: typ, Resource: resource, ResourceID: tempID, Payload: payload})
	return local, nil
}

// Update patches a record.
func (c *Client) Update(ctx context.Context, resource, id string, patch models.Record) (models.Record, error) {
	return c.update(ctx, models.ActionUpdate, resource, id, patch)
}

// ChangeStatus sets the status field of a record.
func (c *Client) ChangeStatus(ctx context.Context, resource, id, status string) (models.Record, error) {
	return c.update(ctx, models.ActionStatusChange, resource, id, models.Record{"status": status})
}

func (c *Client) update(ctx context.Context, typ models.ActionType, resource, id string, patch models.Record) (models.Record, error) {
	if !c.monitor.Online() || uuid.IsTemporary(id) || c.hasQueued(resource, id) {
		return c.updateOffline(typ, resource, id, patch)
	}

	var updated models.Record
	refused, err := c.call(ctx, resource, func(ctx context.Context) error {
		var err error
		updated, err = c.transport.Update(ctx, resource, id, outgoing(patch))
		return err
	})
	if refused {
		return c.updateOffline(typ, resource, id, patch)
	}
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// A cached record is still served locally; the replay settles it.
			if _, ok := c.cache.Get(resource, id); !ok {
				return nil, err
			}
		}
		if c.fallback(err) || errors.Is(err, errors.ErrNotFound) {
			logging.Warn("Update failed, storing offline", map[string]interface{}{
				"resource":  resource,
				"record_id": id,
				"error":     err.Error(),
			})
			return c.updateOffline(typ, resource, id, patch)
		}
		return nil, err
	}

	cached, _ := c.cache.Get(resource, id)
	rec := cached.Merge(patch).Merge(updated).StripOfflineMeta()
	if rec.ID() == "" {
		rec[models.FieldID] = id
	}
	if err := c.cache.Put(resource, rec); err != nil {
		logging.Error("Failed to cache updated record", err, map[string]interface{}{"resource": resource})
	}
	return rec, nil
}

// updateOffline merges the patch into the cached record and queues it.
// Records absent from the cache cannot be updated offline.
func (c *Client) updateOffline(typ models.ActionType, resource, id string, patch models.Record) (models.Record, error) {
	cached, ok := c.cache.Get(resource, id)
	if !ok {
		return nil, errors.New(errors.ErrNotFound, resource+" "+id+" not found")
	}
	payload, err := json.Marshal(outgoing(patch))
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "encode patch", err)
	}

	merged := cached.Merge(patch)
	merged[models.FieldID] = cached[models.FieldID]
	merged[models.FieldOfflineUpdated] = true
	merged[models.FieldOfflineUpdatedAt] = c.stamp()

	if err := c.cache.Put(resource, merged); err != nil {
		logging.Error("Failed to cache offline update", err, map[string]interface{}{"resource": resource})
	}
	c.enqueue(models.ActionInput{Type: typ, Resource: resource, ResourceID: id, Payload: payload})
	return merged, nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	if !c.monitor.Online() || uuid.IsTemporary(id) || c.hasQueued(resource, id) {
		return c.deleteOffline(resource, id)
	}

	refused, err := c.call(ctx, resource, func(ctx context.Context) error {
		return c.transport.Delete(ctx, resource, id)
	})
	if refused {
		return c.deleteOffline(resource, id)
	}
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrNotFound):
			// Gone remotely; only a local copy makes it a success.
			if removed, _ := c.cache.Remove(resource, id); removed {
				return nil
			}
			return err
		case c.fallback(err):
			logging.Warn("Delete failed, storing offline", map[string]interface{}{
				"resource":  resource,
				"record_id": id,
				"error":     err.Error(),
			})
			return c.deleteOffline(resource, id)
		}
		return err
	}

	if _, err := c.cache.Remove(resource, id); err != nil {
		logging.Error("Failed to remove cached record", err, map[string]interface{}{"resource": resource})
	}
	return nil
}

// deleteOffline removes the cached record and queues the delete. A record
// whose create is still queued never reached the server, so its queued
// actions are dropped instead.
func (c *Client) deleteOffline(resource, id string) error {
	removed, err := c.cache.Remove(resource, id)
	if err != nil {
		logging.Error("Failed to remove cached record", err, map[string]interface{}{"resource": resource})
	}
	if !removed {
		return errors.New(errors.ErrNotFound, resource+" "+id+" not found")
	}

	var related []string
	unsent := false
	for _, a := range c.queue.List() {
		if a.Resource != resource || a.ResourceID != id {
			continue
		}
		related = append(related, a.ID)
		switch a.Type {
		case models.ActionCreate, models.ActionUpload, models.ActionPayment:
			unsent = true
		}
	}
	if unsent {
		n := c.queue.DequeueAll(related)
		logging.Info("Dropped queued actions for unsent record", map[string]interface{}{
			"resource":  resource,
			"record_id": id,
			"dropped":   n,
		})
		return nil
	}

	c.enqueue(models.ActionInput{Type: models.ActionDelete, Resource: resource, ResourceID: id})
	return nil
}

// enqueue queues an action. Persist failures keep the action in memory
// and are only logged: the write already succeeded locally.
func (c *Client) enqueue(in models.ActionInput) {
	if _, err := c.queue.Enqueue(in); err != nil {
		logging.ErrorWithCode("Failed to queue action", string(errors.CodeOf(err)), err,
			map[string]interface{}{
				"type":      string(in.Type),
				"resource":  in.Resource,
				"record_id": in.ResourceID,
			})
	}
}

// outgoing strips local-only fields before a record is sent to the server.
func outgoing(rec models.Record) models.Record {
	out := rec.StripOfflineMeta()
	if out == nil {
		return models.Record{}
	}
	if uuid.IsTemporary(out.ID()) {
		delete(out, models.FieldID)
	}
	return out
}
