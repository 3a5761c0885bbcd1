// Package memory provides in-memory CacheStore and OutboxQueue
// implementations. They satisfy the same contracts as the sqlite store minus
// durability, which makes them the natural fit for tests and throwaway
// clients.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
)

var errClosed = errors.New("memory store is closed")

// Cache is an in-memory tillsync.CacheStore.
type Cache struct {
	mu       sync.RWMutex
	entities map[entity.Kind]map[string]entity.Entity
	closed   bool
}

var _ tillsync.CacheStore = (*Cache)(nil)

// NewCache creates an empty in-memory cache.
func NewCache() *Cache {
	return &Cache{entities: map[entity.Kind]map[string]entity.Entity{}}
}

// Get returns clones of all cached entities for a kind and scope, ordered by
// id for deterministic reads.
func (c *Cache) Get(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errClosed
	}

	result := []entity.Entity{}
	for _, e := range c.entities[kind] {
		if e.Scope() == scopeID {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID() < result[j].EntityID() })
	return result, nil
}

// GetByID returns a clone of one cached entity, or tillsync.ErrCacheMiss.
func (c *Cache) GetByID(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errClosed
	}

	e, ok := c.entities[kind][id]
	if !ok {
		return nil, tillsync.ErrCacheMiss
	}
	return e.Clone(), nil
}

// Put inserts or overwrites an entity.
func (c *Cache) Put(ctx context.Context, e entity.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	byID, ok := c.entities[e.Kind()]
	if !ok {
		byID = map[string]entity.Entity{}
		c.entities[e.Kind()] = byID
	}
	byID[e.EntityID()] = e.Clone()
	return nil
}

// Remove deletes an entity. Removing an absent entity is a no-op.
func (c *Cache) Remove(ctx context.Context, kind entity.Kind, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	delete(c.entities[kind], id)
	return nil
}

// ReplaceAll swaps the cached set for a kind and scope with entities.
func (c *Cache) ReplaceAll(ctx context.Context, kind entity.Kind, scopeID string, entities []entity.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	byID, ok := c.entities[kind]
	if !ok {
		byID = map[string]entity.Entity{}
		c.entities[kind] = byID
	}
	for id, e := range byID {
		if e.Scope() == scopeID {
			delete(byID, id)
		}
	}
	for _, e := range entities {
		byID[e.EntityID()] = e.Clone()
	}
	return nil
}

// Close marks the cache closed. Further calls fail.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Outbox is an in-memory tillsync.OutboxQueue.
type Outbox struct {
	mu      sync.RWMutex
	entries []*tillsync.Entry
	seq     uint64
	closed  bool
}

var _ tillsync.OutboxQueue = (*Outbox)(nil)

// NewOutbox creates an empty in-memory outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Enqueue appends an entry, assigning the next FIFO sequence number.
func (o *Outbox) Enqueue(ctx context.Context, e *tillsync.Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errClosed
	}

	o.seq++
	stored := *e
	stored.Seq = o.seq
	e.Seq = o.seq
	o.entries = append(o.entries, &stored)
	return nil
}

// Next returns a copy of the oldest entry without removing it.
func (o *Outbox) Next(ctx context.Context) (*tillsync.Entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, errClosed
	}

	if len(o.entries) == 0 {
		return nil, tillsync.ErrOutboxEmpty
	}
	head := *o.entries[0]
	return &head, nil
}

// Remove deletes an entry by id.
func (o *Outbox) Remove(ctx context.Context, entryID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errClosed
	}

	for i, e := range o.entries {
		if e.ID == entryID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// RemapEntityID rewrites the entity id on all pending entries for a kind.
func (o *Outbox) RemapEntityID(ctx context.Context, kind entity.Kind, oldID, newID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errClosed
	}

	for _, e := range o.entries {
		if e.Kind == kind && e.EntityID == oldID {
			e.EntityID = newID
		}
	}
	return nil
}

// Count returns the number of pending entries.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return 0, errClosed
	}
	return len(o.entries), nil
}

// Close marks the outbox closed. Further calls fail.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}
