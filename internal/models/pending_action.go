// Package models provides data model definitions for the sync engine.
package models

import "encoding/json"

// ActionType is the kind of mutation a PendingAction carries.
type ActionType string

const (
	ActionCreate       ActionType = "create"
	ActionUpdate       ActionType = "update"
	ActionDelete       ActionType = "delete"
	ActionStatusChange ActionType = "status_change"
	ActionUpload       ActionType = "upload"
	ActionPayment      ActionType = "payment"
)

// ActionTypes lists every valid ActionType.
var ActionTypes = []ActionType{
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionStatusChange,
	ActionUpload,
	ActionPayment,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// PendingAction is a queued mutation intent awaiting confirmed remote
// execution. ID is immutable; RetryCount only grows.
type PendingAction struct {
	ID         string          `db:"id" json:"id"`
	Type       ActionType      `db:"type" json:"type"`
	Resource   string          `db:"resource" json:"resource"`
	ResourceID string          `db:"resource_id" json:"resourceId,omitempty"`
	Payload    json.RawMessage `db:"payload" json:"payload,omitempty"`
	Timestamp  int64           `db:"timestamp" json:"timestamp"` // unix ms
	RetryCount int             `db:"retry_count" json:"retryCount"`
	LastError  string          `db:"last_error" json:"lastError,omitempty"`
}

// Clone returns a deep copy of the action.
func (a PendingAction) Clone() PendingAction {
	if a.Payload != nil {
		a.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return a
}

// ActionInput is an action without the fields the queue assigns.
type ActionInput struct {
	Type       ActionType
	Resource   string
	ResourceID string
	Payload    json.RawMessage
}
