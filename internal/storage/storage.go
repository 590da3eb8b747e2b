// Package storage provides the durable key/value partitions the sync engine
// persists into. Each key holds one serialized JSON array.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/ledgerdesk/backend/internal/db"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
)

// Store is a string-keyed blob store.
type Store interface {
	// Load returns the stored value, or nil with no error when the key is absent.
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Remove(key string) error
}

// =====================================================
// Memory Store
// =====================================================

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemoryStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// =====================================================
// SQLite Store
// =====================================================

// SQLStore persists values in the kv_entries table.
type SQLStore struct {
	repo *db.KVRepository
}

// NewSQLStore creates a SQLStore on a migrated database.
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{repo: db.NewKVRepository(database.DB)}
}

// Load implements Store.
func (s *SQLStore) Load(key string) ([]byte, error) {
	v, ok, err := s.repo.Get(key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "load failed", err)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Save implements Store.
func (s *SQLStore) Save(key string, data []byte) error {
	if err := s.repo.Put(key, data); err != nil {
		return errors.Wrap(errors.ErrStorage, "save failed", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLStore) Remove(key string) error {
	if err := s.repo.Delete(key); err != nil {
		return errors.Wrap(errors.ErrStorage, "remove failed", err)
	}
	return nil
}

// =====================================================
// Array Helpers
// =====================================================

// LoadArray decodes the JSON array stored under key. Absent keys yield an
// empty slice. Unreadable or corrupt values also yield an empty slice, with
// the cause returned so the caller can log it.
func LoadArray[T any](s Store, key string) ([]T, error) {
	raw, err := s.Load(key)
	if err != nil {
		return []T{}, err
	}
	if len(raw) == 0 {
		return []T{}, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return []T{}, errors.Wrap(errors.ErrStorage, fmt.Sprintf("corrupt value under %q", key), err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// SaveArray encodes items as a JSON array and stores it under key.
func SaveArray[T any](s Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("encode %q", key), err)
	}
	if err := s.Save(key, data); err != nil {
		if errors.CodeOf(err) == errors.ErrStorage {
			return err
		}
		return errors.Wrap(errors.ErrStorage, fmt.Sprintf("persist %q", key), err)
	}
	return nil
}
