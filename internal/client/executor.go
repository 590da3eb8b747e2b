package client

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	syncpkg "github.com/kimhsiao/ledgerdesk/backend/internal/sync"
	"github.com/kimhsiao/ledgerdesk/backend/internal/uuid"
)

// Executor returns the function the sync engine replays queued actions
// with. Calls go through the same guards as interactive writes.
func (c *Client) Executor() syncpkg.Executor {
	return c.replay
}

func (c *Client) replay(ctx context.Context, action models.PendingAction) (bool, error) {
	// A create earlier in the same pass may have rebound ResourceID.
	if current, ok := c.queue.Get(action.ID); ok {
		action = current
	}

	switch action.Type {
	case models.ActionCreate, models.ActionUpload, models.ActionPayment:
		return c.replayCreate(ctx, action)
	case models.ActionUpdate, models.ActionStatusChange:
		return c.replayUpdate(ctx, action)
	case models.ActionDelete:
		return c.replayDelete(ctx, action)
	}
	return false, errors.New(errors.ErrInvalid, "unknown action type "+string(action.Type))
}

// guarded runs fn through the resource's guard. A refusal is reported as
// DEFERRED so the engine leaves the action queued as it is.
func (c *Client) guarded(ctx context.Context, resource string, fn func(context.Context) error) error {
	refused, err := c.call(ctx, resource, fn)
	if refused {
		return errors.New(errors.ErrDeferred, "call to "+resource+" deferred by guard")
	}
	return err
}

func decodePayload(action models.PendingAction) (models.Record, error) {
	rec := models.Record{}
	if len(action.Payload) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(action.Payload, &rec); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "decode payload of "+action.ID, err)
	}
	return rec, nil
}

func (c *Client) replayCreate(ctx context.Context, action models.PendingAction) (bool, error) {
	payload, err := decodePayload(action)
	if err != nil {
		return false, err
	}

	var created models.Record
	err = c.guarded(ctx, action.Resource, func(ctx context.Context) error {
		var err error
		created, err = c.transport.Create(ctx, action.Resource, payload)
		return err
	})
	if err != nil {
		return false, err
	}

	tempID := action.ResourceID
	serverID := created.ID()
	if serverID == "" {
		serverID = tempID
	}
	c.settle(action, tempID, serverID, created)

	if tempID != "" && tempID != serverID {
		n := c.queue.RebindResource(action.Resource, tempID, serverID)
		logging.Info("Temporary id confirmed", map[string]interface{}{
			"resource":  action.Resource,
			"temp_id":   tempID,
			"server_id": serverID,
			"rebound":   n,
		})
	}
	return true, nil
}

func (c *Client) replayUpdate(ctx context.Context, action models.PendingAction) (bool, error) {
	if uuid.IsTemporary(action.ResourceID) {
		return false, errors.New(errors.ErrQueueExecution, "record "+action.ResourceID+" has no server id yet")
	}
	patch, err := decodePayload(action)
	if err != nil {
		return false, err
	}

	var updated models.Record
	err = c.guarded(ctx, action.Resource, func(ctx context.Context) error {
		var err error
		updated, err = c.transport.Update(ctx, action.Resource, action.ResourceID, patch)
		return err
	})
	if errors.Is(err, errors.ErrNotFound) {
		// Deleted remotely: the edit has nothing to apply to.
		logging.Warn("Record gone remotely, dropping update", map[string]interface{}{
			"resource":  action.Resource,
			"record_id": action.ResourceID,
			"action_id": action.ID,
		})
		if _, err := c.cache.Remove(action.Resource, action.ResourceID); err != nil {
			logging.Error("Failed to remove cached record", err, map[string]interface{}{"resource": action.Resource})
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	c.settle(action, action.ResourceID, action.ResourceID, patch.Merge(updated))
	return true, nil
}

func (c *Client) replayDelete(ctx context.Context, action models.PendingAction) (bool, error) {
	if uuid.IsTemporary(action.ResourceID) {
		// Never reached the server.
		return true, nil
	}

	err := c.guarded(ctx, action.Resource, func(ctx context.Context) error {
		return c.transport.Delete(ctx, action.Resource, action.ResourceID)
	})
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return false, err
	}
	if _, err := c.cache.Remove(action.Resource, action.ResourceID); err != nil {
		logging.Error("Failed to remove cached record", err, map[string]interface{}{"resource": action.Resource})
	}
	return true, nil
}

// settle writes the server's answer for a confirmed action into the cache
// entry held under localID. While later actions for the record are still
// queued the local edits are reconciled with the response; otherwise the
// record is clean.
func (c *Client) settle(action models.PendingAction, localID, serverID string, remote models.Record) {
	local, ok := c.cache.Get(action.Resource, localID)
	if !ok {
		// Deleted locally meanwhile; a queued delete will follow.
		return
	}

	remote = local.StripOfflineMeta().Merge(remote)
	remote[models.FieldID] = idValue(remote, serverID)

	var rec models.Record
	if c.pendingAfter(action, localID) {
		candidate := local.Clone()
		candidate[models.FieldID] = remote[models.FieldID]
		rec = c.resolver.Reconcile(action.Resource, candidate, remote)
	} else {
		rec = remote.StripOfflineMeta()
	}

	if err := c.cache.Upsert(action.Resource, localID, rec); err != nil {
		logging.Error("Failed to cache confirmed record", err, map[string]interface{}{
			"resource":  action.Resource,
			"record_id": serverID,
		})
	}
}

// pendingAfter reports whether other queued actions target the record.
func (c *Client) pendingAfter(action models.PendingAction, id string) bool {
	for _, a := range c.queue.List() {
		if a.ID != action.ID && a.Resource == action.Resource && a.ResourceID == id {
			return true
		}
	}
	return false
}

// idValue keeps the server's id representation when it matches serverID.
func idValue(rec models.Record, serverID string) any {
	if v, ok := rec[models.FieldID]; ok && rec.ID() == serverID {
		return v
	}
	return serverID
}
