package sqlite

import (
	"context"
	"database/sql"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
)

// Operation names for error reporting
const (
	opGet        = "sqlite.Get"
	opGetByID    = "sqlite.GetByID"
	opPut        = "sqlite.Put"
	opRemove     = "sqlite.Remove"
	opReplaceAll = "sqlite.ReplaceAll"
)

// Cache is the SQLite-backed tillsync.CacheStore. It is a view over a Store
// and shares its connection pool with the Outbox view.
type Cache struct {
	store *Store
}

var _ tillsync.CacheStore = (*Cache)(nil)

// Get returns the cached entities for a kind and scope, ordered by id.
func (c *Cache) Get(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT data FROM entities WHERE kind = ? AND scope_id = ? ORDER BY id ASC`
	rows, err := c.store.db.QueryContext(ctx, query, kind.String(), scopeID)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, component)
	}
	defer rows.Close()

	entities := []entity.Entity{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, syncErrors.WrapOpComponent(err, opGet, component)
		}
		e, err := entity.Decode(kind, data)
		if err != nil {
			return nil, syncErrors.WrapOpComponent(err, opGet, component)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGet, component)
	}
	return entities, nil
}

// GetByID returns one cached entity, or tillsync.ErrCacheMiss.
func (c *Cache) GetByID(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT data FROM entities WHERE kind = ? AND id = ?`
	var data []byte
	err := c.store.db.QueryRowContext(ctx, query, kind.String(), id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, tillsync.ErrCacheMiss
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGetByID, component)
	}

	e, err := entity.Decode(kind, data)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opGetByID, component)
	}
	return e, nil
}

// Put inserts or overwrites an entity. The upsert makes repeated Puts of the
// same entity converge on one row.
func (c *Cache) Put(ctx context.Context, e entity.Entity) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}

	data, err := entity.Encode(e)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opPut, component)
	}

	query := `INSERT INTO entities (kind, id, scope_id, data) VALUES (?, ?, ?, ?)
	          ON CONFLICT (kind, id) DO UPDATE SET scope_id = excluded.scope_id, data = excluded.data, updated_at = CURRENT_TIMESTAMP`
	_, err = c.store.db.ExecContext(ctx, query, e.Kind().String(), e.EntityID(), e.Scope(), string(data))
	if err != nil {
		return syncErrors.WrapOpComponent(err, opPut, component)
	}
	return nil
}

// Remove deletes an entity. Removing an absent entity is a no-op.
func (c *Cache) Remove(ctx context.Context, kind entity.Kind, id string) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}

	query := `DELETE FROM entities WHERE kind = ? AND id = ?`
	_, err := c.store.db.ExecContext(ctx, query, kind.String(), id)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opRemove, component)
	}
	return nil
}

// ReplaceAll swaps the cached set for a kind and scope with entities, in one
// transaction so readers never observe a half-replaced collection.
func (c *Cache) ReplaceAll(ctx context.Context, kind entity.Kind, scopeID string, entities []entity.Entity) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opReplaceAll, component)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND scope_id = ?`, kind.String(), scopeID)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opReplaceAll, component)
	}

	insert := `INSERT INTO entities (kind, id, scope_id, data) VALUES (?, ?, ?, ?)
	           ON CONFLICT (kind, id) DO UPDATE SET scope_id = excluded.scope_id, data = excluded.data, updated_at = CURRENT_TIMESTAMP`
	for _, e := range entities {
		var data []byte
		data, err = entity.Encode(e)
		if err != nil {
			return syncErrors.WrapOpComponent(err, opReplaceAll, component)
		}
		_, err = tx.ExecContext(ctx, insert, e.Kind().String(), e.EntityID(), e.Scope(), string(data))
		if err != nil {
			return syncErrors.WrapOpComponent(err, opReplaceAll, component)
		}
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opReplaceAll, component)
	}
	return nil
}

// Close closes the shared store.
func (c *Cache) Close() error {
	return c.store.Close()
}
