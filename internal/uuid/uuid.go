// Package uuid provides UUID v4 generation and validation plus the temporary
// identifiers given to records created while offline.
package uuid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// TemporaryPrefix marks ids synthesized locally for offline-created records.
// Server-issued ids never start with it.
const TemporaryPrefix = "tmp-"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// NewTemporary generates a temporary id for a record created offline.
func NewTemporary() string {
	return TemporaryPrefix + uuid.New().String()
}

// IsTemporary reports whether id was produced by NewTemporary.
func IsTemporary(id string) bool {
	rest, ok := strings.CutPrefix(id, TemporaryPrefix)
	return ok && IsValid(rest)
}
