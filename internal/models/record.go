package models

import (
	"encoding/json"
	"fmt"
)

// Offline metadata stamped onto records mutated without server confirmation.
const (
	FieldID               = "id"
	FieldOfflineCreated   = "_offline_created"
	FieldOfflineCreatedAt = "_offline_created_at"
	FieldOfflineUpdated   = "_offline_updated"
	FieldOfflineUpdatedAt = "_offline_updated_at"
	FieldUpdatedAt        = "updated_at"
)

// Record is an opaque domain record (company, portfolio, payment...).
// Only its id and the offline metadata are interpreted.
type Record map[string]any

// ID returns the record id as a string. Numeric ids decoded from JSON are
// rendered without a fractional part.
func (r Record) ID() string {
	switch v := r[FieldID].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a shallow copy; nested values are shared.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a copy of r with every key of patch applied on top.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// IsOfflineCreated reports whether the record was created without the server.
func (r Record) IsOfflineCreated() bool {
	v, _ := r[FieldOfflineCreated].(bool)
	return v
}

// IsOfflineUpdated reports whether the record carries unconfirmed edits.
func (r Record) IsOfflineUpdated() bool {
	v, _ := r[FieldOfflineUpdated].(bool)
	return v
}

// StripOfflineMeta returns a copy without the local metadata keys, suitable
// for sending to the server.
func (r Record) StripOfflineMeta() Record {
	out := r.Clone()
	delete(out, FieldOfflineCreated)
	delete(out, FieldOfflineCreatedAt)
	delete(out, FieldOfflineUpdated)
	delete(out, FieldOfflineUpdatedAt)
	return out
}
