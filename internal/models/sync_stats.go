package models

import "time"

// SyncStats summarises drain activity since process start.
type SyncStats struct {
	PendingCount       int        `json:"pending_count"`
	SuccessCount       int        `json:"success_count"`
	ErrorCount         int        `json:"error_count"`
	LastSyncAttempt    *time.Time `json:"last_sync_attempt,omitempty"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync,omitempty"`
}
