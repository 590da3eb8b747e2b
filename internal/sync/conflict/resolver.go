// Package conflict reconciles server responses with records that were
// modified locally while their actions were queued.
package conflict

import (
	"time"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyServerWins    ResolutionStrategy = "server_wins"
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionStrategyManual        ResolutionStrategy = "manual"
)

// ParseStrategy converts a config string, defaulting to last-write-wins.
func ParseStrategy(s string) ResolutionStrategy {
	switch ResolutionStrategy(s) {
	case ResolutionStrategyServerWins, ResolutionStrategyManual:
		return ResolutionStrategy(s)
	}
	return ResolutionStrategyLastWriteWins
}

// Resolver handles conflict resolution during synchronization.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() time.Time
}

// NewResolver creates a new Resolver with the specified strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{
		strategy: strategy,
		now:      time.Now,
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// Conflict is a server response for a record that still carries
// unconfirmed local edits.
type Conflict struct {
	Resource        string
	RecordID        string
	Local           models.Record
	Remote          models.Record
	LocalTimestamp  int64 // unix ms
	RemoteTimestamp int64 // unix ms
	DetectedAt      int64 // unix ms
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	Record      models.Record // the record to keep in the cache
	Discarded   models.Record
	Strategy    ResolutionStrategy
	ConflictLog *models.ConflictLog
}

// DetectConflict reports whether local has offline edits that remote does
// not reflect. Records with different ids never conflict.
func (r *Resolver) DetectConflict(resource string, local, remote models.Record) (*Conflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}
	if local.ID() != remote.ID() {
		return nil, false
	}
	if !local.IsOfflineUpdated() {
		return nil, false
	}

	c := &Conflict{
		Resource:        resource,
		RecordID:        remote.ID(),
		Local:           local,
		Remote:          remote,
		LocalTimestamp:  TimestampMillis(local[models.FieldOfflineUpdatedAt]),
		RemoteTimestamp: TimestampMillis(remote[models.FieldUpdatedAt]),
		DetectedAt:      r.now().UnixMilli(),
	}

	logging.Debug("Offline edit conflict detected",
		map[string]interface{}{
			"resource":         resource,
			"record_id":        c.RecordID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
		})

	return c, true
}

// Resolve resolves a conflict using the configured strategy.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil || c.Local == nil || c.Remote == nil {
		return nil, ErrInvalidConflict
	}
	if c.Local.ID() != c.Remote.ID() {
		return nil, ErrItemIDMismatch
	}

	switch r.strategy {
	case ResolutionStrategyServerWins:
		return r.result(c, false, "remote_wins"), nil
	case ResolutionStrategyManual:
		logging.Warn("Conflict queued for manual review",
			map[string]interface{}{
				"resource":  c.Resource,
				"record_id": c.RecordID,
			})
		return r.result(c, true, "manual_review_required"), nil
	default:
		// Unknown remote time means the server echoed our write; local wins.
		if c.RemoteTimestamp == 0 || c.LocalTimestamp >= c.RemoteTimestamp {
			return r.result(c, true, "local_wins"), nil
		}
		return r.result(c, false, "remote_wins"), nil
	}
}

func (r *Resolver) result(c *Conflict, localWins bool, resolution string) *ResolveResult {
	res := &ResolveResult{
		Strategy: r.strategy,
		ConflictLog: &models.ConflictLog{
			Resource:        c.Resource,
			RecordID:        c.RecordID,
			LocalTimestamp:  c.LocalTimestamp,
			RemoteTimestamp: c.RemoteTimestamp,
			Resolution:      resolution,
			DetectedAt:      c.DetectedAt,
		},
	}
	if localWins {
		res.Record = MergeRecords(c.Local, c.Remote)
		res.Discarded = c.Remote
	} else {
		res.Record = c.Remote.StripOfflineMeta()
		res.Discarded = c.Local
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"resource":   c.Resource,
			"record_id":  c.RecordID,
			"strategy":   string(r.strategy),
			"resolution": resolution,
		})
	return res
}

// Reconcile returns the record to cache after the server answered with
// remote for a record held locally as local.
func (r *Resolver) Reconcile(resource string, local, remote models.Record) models.Record {
	if remote == nil {
		return local
	}
	c, ok := r.DetectConflict(resource, local, remote)
	if !ok {
		return remote.StripOfflineMeta()
	}
	res, err := r.Resolve(c)
	if err != nil {
		return remote.StripOfflineMeta()
	}
	return res.Record
}

// MergeRecords returns remote with every field of local applied on top,
// keeping the server's id.
func MergeRecords(local, remote models.Record) models.Record {
	merged := remote.Merge(local)
	if id, ok := remote[models.FieldID]; ok {
		merged[models.FieldID] = id
	}
	return merged
}

// TimestampMillis interprets an RFC 3339 string or a unix timestamp in
// seconds or milliseconds. Unknown values yield 0.
func TimestampMillis(v any) int64 {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
	case float64:
		return numericMillis(int64(t))
	case int64:
		return numericMillis(t)
	case int:
		return numericMillis(int64(t))
	}
	return 0
}

func numericMillis(n int64) int64 {
	// Anything before 2001 in milliseconds is treated as seconds.
	if n < 1e12 {
		return n * 1000
	}
	return n
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both records must be non-nil"}
	ErrItemIDMismatch  = &ConflictError{Message: "record ID mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
