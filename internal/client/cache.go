package client

import (
	"sync"

	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/models"
	"github.com/kimhsiao/ledgerdesk/backend/internal/storage"
)

// CacheKeyPrefix prefixes the storage key of every cached collection.
const CacheKeyPrefix = "cache:"

// Cache keeps the last known collection of each resource, including
// optimistic local writes.
type Cache struct {
	mu    sync.Mutex
	store storage.Store
}

// NewCache creates a Cache over store.
func NewCache(store storage.Store) *Cache {
	return &Cache{store: store}
}

func cacheKey(resource string) string {
	return CacheKeyPrefix + resource
}

// load reads a collection. Caller must hold mu.
func (c *Cache) load(resource string) []models.Record {
	records, err := storage.LoadArray[models.Record](c.store, cacheKey(resource))
	if err != nil {
		logging.Warn("Cached collection unreadable, using empty collection", map[string]interface{}{
			"resource": resource,
			"error":    err.Error(),
		})
	}
	return records
}

func (c *Cache) save(resource string, records []models.Record) error {
	return storage.SaveArray(c.store, cacheKey(resource), records)
}

// Has reports whether a collection was ever cached for resource.
func (c *Cache) Has(resource string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := c.store.Load(cacheKey(resource))
	return err == nil && raw != nil
}

// Collection returns the cached records of resource. Absent or corrupt
// collections are empty.
func (c *Cache) Collection(resource string) []models.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(resource)
}

// Replace overwrites the cached collection.
func (c *Cache) Replace(resource string, records []models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(resource, records)
}

// Append adds rec to the end of the collection.
func (c *Cache) Append(resource string, rec models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(resource, append(c.load(resource), rec))
}

// Get returns the cached record with id.
func (c *Cache) Get(resource, id string) (models.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.load(resource) {
		if r.ID() == id {
			return r, true
		}
	}
	return nil, false
}

// Put replaces the record with rec's id, or appends rec.
func (c *Cache) Put(resource string, rec models.Record) error {
	return c.Upsert(resource, rec.ID(), rec)
}

// Upsert replaces the record stored under id with rec, or appends rec.
// rec may carry a different id.
func (c *Cache) Upsert(resource, id string, rec models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.load(resource)
	for i, r := range records {
		if r.ID() == id {
			records[i] = rec
			return c.save(resource, records)
		}
	}
	return c.save(resource, append(records, rec))
}

// Remove deletes the record with id and reports whether it was cached.
func (c *Cache) Remove(resource, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.load(resource)
	for i, r := range records {
		if r.ID() == id {
			return true, c.save(resource, append(records[:i], records[i+1:]...))
		}
	}
	return false, nil
}

// SwapID renames a cached record, typically from a temporary id to the
// server-assigned one. It reports whether the record was found.
func (c *Cache) SwapID(resource, oldID, newID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.load(resource)
	for i, r := range records {
		if r.ID() == oldID {
			updated := r.Clone()
			updated[models.FieldID] = newID
			records[i] = updated
			return true, c.save(resource, records)
		}
	}
	return false, nil
}
