package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
)

const (
	opEnqueue     = "sqlite.Enqueue"
	opNext        = "sqlite.Next"
	opRemoveEntry = "sqlite.RemoveEntry"
	opRemap       = "sqlite.RemapEntityID"
	opCount       = "sqlite.Count"
)

// Outbox is the SQLite-backed tillsync.OutboxQueue. It is a view over a
// Store and shares its connection pool with the Cache view. FIFO order comes
// from the AUTOINCREMENT seq column, so it survives restarts.
type Outbox struct {
	store *Store
}

var _ tillsync.OutboxQueue = (*Outbox)(nil)

// Enqueue appends an entry. The database assigns the sequence number, which
// is written back into e.Seq.
func (o *Outbox) Enqueue(ctx context.Context, e *tillsync.Entry) error {
	if err := o.store.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO outbox (id, op, kind, entity_id, scope_id, payload, enqueued_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := o.store.db.ExecContext(ctx, query,
		e.ID, string(e.Op), e.Kind.String(), e.EntityID, e.ScopeID, string(e.Payload), e.EnqueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return syncErrors.WrapOpComponent(err, opEnqueue, component)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return syncErrors.WrapOpComponent(err, opEnqueue, component)
	}
	e.Seq = uint64(seq)
	return nil
}

// Next returns the oldest pending entry without removing it, or
// tillsync.ErrOutboxEmpty.
func (o *Outbox) Next(ctx context.Context) (*tillsync.Entry, error) {
	if err := o.store.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT seq, id, op, kind, entity_id, scope_id, payload, enqueued_at FROM outbox ORDER BY seq ASC LIMIT 1`
	var (
		e          tillsync.Entry
		op, kind   string
		payload    sql.NullString
		enqueuedAt string
	)
	err := o.store.db.QueryRowContext(ctx, query).Scan(
		&e.Seq, &e.ID, &op, &kind, &e.EntityID, &e.ScopeID, &payload, &enqueuedAt)
	if err == sql.ErrNoRows {
		return nil, tillsync.ErrOutboxEmpty
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opNext, component)
	}

	e.Op = tillsync.Operation(op)
	e.Kind = entity.Kind(kind)
	if payload.Valid && payload.String != "" {
		e.Payload = []byte(payload.String)
	}
	ts, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return nil, syncErrors.WrapOpComponent(err, opNext, component)
	}
	e.EnqueuedAt = ts
	return &e, nil
}

// Remove deletes an entry by id.
func (o *Outbox) Remove(ctx context.Context, entryID string) error {
	if err := o.store.checkOpen(); err != nil {
		return err
	}

	query := `DELETE FROM outbox WHERE id = ?`
	_, err := o.store.db.ExecContext(ctx, query, entryID)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opRemoveEntry, component)
	}
	return nil
}

// RemapEntityID rewrites the entity id on all pending entries for a kind.
// Sequence numbers are untouched, so replay order is preserved.
func (o *Outbox) RemapEntityID(ctx context.Context, kind entity.Kind, oldID, newID string) error {
	if err := o.store.checkOpen(); err != nil {
		return err
	}

	query := `UPDATE outbox SET entity_id = ? WHERE kind = ? AND entity_id = ?`
	_, err := o.store.db.ExecContext(ctx, query, newID, kind.String(), oldID)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opRemap, component)
	}
	return nil
}

// Count returns the number of pending entries.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	if err := o.store.checkOpen(); err != nil {
		return 0, err
	}

	var n int
	err := o.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	if err != nil {
		return 0, syncErrors.WrapOpComponent(err, opCount, component)
	}
	return n, nil
}

// Close closes the shared store.
func (o *Outbox) Close() error {
	return o.store.Close()
}
