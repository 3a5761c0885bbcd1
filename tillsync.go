// Package tillsync provides an offline-first synchronization core for
// point-of-sale clients. Mutations apply to a local cache optimistically,
// fall back to a durable FIFO outbox while offline, and replay in order
// against the remote system once connectivity returns, after which cached
// collections are reconciled with the server's authoritative state.
package tillsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tillsync/tillsync/entity"
)

// Operation is the type of a pending mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op names a known mutation operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

var (
	// ErrOutboxEmpty is returned by OutboxQueue.Next when no entries are pending.
	ErrOutboxEmpty = errors.New("outbox is empty")

	// ErrCacheMiss is returned by CacheStore.GetByID for an uncached entity.
	ErrCacheMiss = errors.New("entity not in cache")

	// ErrReplayInProgress is returned by SyncNow when a replay pass is already
	// running. The trigger is dropped, never queued: the next transition or
	// manual trigger picks up whatever the running pass leaves behind.
	ErrReplayInProgress = errors.New("replay already in progress")

	// ErrEngineClosed is returned by all engine operations after Close.
	ErrEngineClosed = errors.New("sync engine is closed")
)

// Entry is one pending mutation awaiting replay. Seq is assigned by the
// queue implementation and defines FIFO order; it is never reassigned.
type Entry struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Op         Operation       `json:"op"`
	Kind       entity.Kind     `json:"kind"`
	EntityID   string          `json:"entity_id"`
	ScopeID    string          `json:"scope_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewEntry builds an outbox entry with a fresh id and enqueue timestamp.
// Payload holds the full entity for creates, the partial patch for updates,
// and is empty for deletes.
func NewEntry(op Operation, kind entity.Kind, entityID, scopeID string, payload json.RawMessage) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		Op:         op,
		Kind:       kind,
		EntityID:   entityID,
		ScopeID:    scopeID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// CacheStore is the client-resident mirror of entity collections, scoped by
// tenant. Implementations must survive process restarts when durability is
// required (see storage/sqlite) and must make Put/Remove/ReplaceAll
// idempotent.
type CacheStore interface {
	// Get returns the cached set for a kind and scope. An uninitialized
	// scope yields an empty slice, not an error.
	Get(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error)

	// GetByID returns a single cached entity, or ErrCacheMiss.
	GetByID(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)

	// Put inserts or overwrites an entity. Applying the same Put twice
	// yields the same final state.
	Put(ctx context.Context, e entity.Entity) error

	// Remove deletes an entity. Removing an absent entity is not an error.
	Remove(ctx context.Context, kind entity.Kind, id string) error

	// ReplaceAll swaps the whole cached set for a kind and scope with the
	// authoritative remote collection, discarding entries absent from it.
	ReplaceAll(ctx context.Context, kind entity.Kind, scopeID string, entities []entity.Entity) error

	// Close releases resources.
	Close() error
}

// OutboxQueue is a durable FIFO queue of pending mutations, shared across
// all tenants the client manages. Entries are never reordered or coalesced.
type OutboxQueue interface {
	// Enqueue appends an entry. Repeated mutations against the same entity
	// each get their own entry; the queue does no de-duplication.
	Enqueue(ctx context.Context, e *Entry) error

	// Next returns the oldest pending entry without removing it, or
	// ErrOutboxEmpty.
	Next(ctx context.Context) (*Entry, error)

	// Remove deletes an entry by id, called only after its remote replay
	// succeeded.
	Remove(ctx context.Context, entryID string) error

	// RemapEntityID rewrites the entity id on all pending entries for a
	// kind. Called when a replayed create exchanges a temporary id for the
	// server-assigned one, so later updates and deletes queued against the
	// temporary id still target the right record.
	RemapEntityID(ctx context.Context, kind entity.Kind, oldID, newID string) error

	// Count returns the number of pending entries.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// RemoteClient talks to the authoritative remote API at per-kind endpoints.
type RemoteClient interface {
	// Create submits a new entity and returns the server-assigned copy.
	Create(ctx context.Context, e entity.Entity) (entity.Entity, error)

	// Update applies a partial patch by id and returns the updated entity.
	Update(ctx context.Context, kind entity.Kind, id string, patch json.RawMessage) (entity.Entity, error)

	// Delete removes an entity by id.
	Delete(ctx context.Context, kind entity.Kind, id string) error

	// List returns the full current collection for a kind and scope.
	List(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error)

	// Close releases resources.
	Close() error
}

// ConnectivityMonitor reports network reachability and fires registered
// callbacks exactly once per offline-to-online transition.
type ConnectivityMonitor interface {
	Online() bool
	OnOnline(fn func())
	OnOffline(fn func())
}

// ReplayResult describes one completed (or halted) replay pass.
type ReplayResult struct {
	// Replayed is the number of outbox entries confirmed and removed.
	Replayed int

	// Remaining is the number of entries still queued after the pass.
	Remaining int

	// KindsRefreshed lists the entity kinds whose cached collections were
	// reconciled with the remote state after the pass.
	KindsRefreshed []entity.Kind

	// Err is the error that halted the pass, if any. A halted pass leaves
	// the failing entry and everything behind it queued, in order.
	Err error

	// StartTime is when the pass began.
	StartTime time.Time

	// Duration is how long the pass took.
	Duration time.Duration
}
