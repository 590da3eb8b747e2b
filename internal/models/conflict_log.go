package models

import "time"

// ConflictLog records how a server response was reconciled with a locally
// modified record.
type ConflictLog struct {
	Resource        string `json:"resource"`
	RecordID        string `json:"record_id"`
	LocalTimestamp  int64  `json:"local_timestamp"`  // unix ms, 0 if unknown
	RemoteTimestamp int64  `json:"remote_timestamp"` // unix ms, 0 if unknown
	Resolution      string `json:"resolution"`       // local_wins, remote_wins, manual_review_required
	DetectedAt      int64  `json:"detected_at"`      // unix ms
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
