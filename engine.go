package tillsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
	"github.com/tillsync/tillsync/logging"
)

// Options configures the sync engine.
type Options struct {
	// Timeout bounds every individual remote call. A call that neither
	// succeeds nor fails within it counts as a failure, so a hung request
	// can never freeze the outbox. Defaults to 30s.
	Timeout time.Duration

	// ReplayBudget bounds a whole monitor-triggered replay pass.
	// Defaults to 5m.
	ReplayBudget time.Duration

	// Logger for engine diagnostics. Defaults to the package logger.
	Logger *logging.Logger

	// Metrics receives observability hooks. Defaults to NoopCollector.
	Metrics MetricsCollector
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.ReplayBudget <= 0 {
		o.ReplayBudget = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = logging.Default().WithComponent("engine")
	}
	if o.Metrics == nil {
		o.Metrics = NoopCollector{}
	}
}

// Engine is the only component that mutates the cache and the outbox
// together. Each mutation runs the same state machine: optimistic apply,
// dispatch decision, reconcile or roll back.
type Engine struct {
	cache   CacheStore
	outbox  OutboxQueue
	remote  RemoteClient
	monitor ConnectivityMonitor
	options Options

	// mutMu serializes cache/outbox write sequences so no caller can
	// observe a half-applied mutation or replay step.
	mutMu sync.Mutex

	mu            sync.RWMutex
	replaying     bool
	closed        bool
	lastReplayErr error
	subscribers   []func(*ReplayResult)
}

// New creates a sync engine over explicitly injected collaborators. The
// engine registers itself on the monitor's online transition, so a regained
// connection triggers one replay pass automatically.
func New(cache CacheStore, outbox OutboxQueue, remote RemoteClient, monitor ConnectivityMonitor, opts *Options) (*Engine, error) {
	if cache == nil {
		return nil, errors.New("tillsync: cache store is required")
	}
	if outbox == nil {
		return nil, errors.New("tillsync: outbox queue is required")
	}
	if remote == nil {
		return nil, errors.New("tillsync: remote client is required")
	}
	if monitor == nil {
		return nil, errors.New("tillsync: connectivity monitor is required")
	}

	options := Options{}
	if opts != nil {
		options = *opts
	}
	options.setDefaults()

	e := &Engine{
		cache:   cache,
		outbox:  outbox,
		remote:  remote,
		monitor: monitor,
		options: options,
	}

	monitor.OnOnline(func() {
		e.options.Metrics.RecordConnectivity(true)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.options.ReplayBudget)
			defer cancel()
			if _, err := e.SyncNow(ctx); err != nil &&
				!errors.Is(err, ErrReplayInProgress) && !errors.Is(err, ErrEngineClosed) {
				e.options.Logger.LogError(ctx, err, "connectivity-triggered replay failed")
			}
		}()
	})
	monitor.OnOffline(func() {
		e.options.Metrics.RecordConnectivity(false)
	})

	return e, nil
}

// Create applies a new entity optimistically under a client-generated
// temporary id, then either dispatches it remotely (online) or queues it
// (offline). On a confirmed dispatch the temporary-id row is removed and the
// server copy inserted; the two ids never coexist in the cache.
//
// A failed online dispatch rolls the optimistic row back and returns the
// error. Financial kinds keep the optimistic copy instead, returned
// alongside the error.
func (e *Engine) Create(ctx context.Context, ent entity.Entity) (entity.Entity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	kind := ent.Kind()
	if !kind.Valid() {
		return nil, syncErrors.NewValidationError(syncErrors.OpCreate, errors.New("unknown entity kind: "+kind.String()))
	}
	if err := ent.Validate(); err != nil {
		e.options.Metrics.RecordMutation(kind, OpCreate, OutcomeRejected)
		return nil, syncErrors.NewValidationError(syncErrors.OpCreate, err)
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	optimistic := ent.Clone()
	optimistic.SetID(entity.NewTempID())
	optimistic.Touch(time.Now().UTC())

	if err := e.cache.Put(ctx, optimistic); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpCreate, err)
	}

	if !e.monitor.Online() {
		payload, err := entity.Encode(optimistic)
		if err != nil {
			_ = e.cache.Remove(ctx, kind, optimistic.EntityID())
			return nil, syncErrors.New(syncErrors.OpCreate, err)
		}
		entry := NewEntry(OpCreate, kind, optimistic.EntityID(), optimistic.Scope(), payload)
		if err := e.outbox.Enqueue(ctx, entry); err != nil {
			_ = e.cache.Remove(ctx, kind, optimistic.EntityID())
			return nil, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
		}
		e.options.Metrics.RecordMutation(kind, OpCreate, OutcomeQueued)
		e.recordPending(ctx)
		return optimistic, nil
	}

	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	confirmed, err := e.remote.Create(opCtx, optimistic)
	if err != nil {
		if kind.Financial() {
			// Financial records keep their optimistic copy on a failed
			// dispatch; losing a completed sale locally is worse than a
			// sync delay. Intentional asymmetry, see entity.Kind.Financial.
			// The error is still surfaced so the caller knows the record
			// is local-only.
			e.options.Logger.LogError(ctx, err, "create dispatch failed, keeping financial record",
				slog.String("kind", kind.String()),
				slog.String("entity_id", optimistic.EntityID()))
			e.options.Metrics.RecordMutation(kind, OpCreate, OutcomeKept)
			return optimistic, wrapRemoteErr(syncErrors.OpCreate, err)
		}
		_ = e.cache.Remove(ctx, kind, optimistic.EntityID())
		e.options.Metrics.RecordMutation(kind, OpCreate, OutcomeRolledBack)
		return nil, wrapRemoteErr(syncErrors.OpCreate, err)
	}

	// Delete-then-insert, never a merge: the temporary id is fully replaced.
	if err := e.cache.Remove(ctx, kind, optimistic.EntityID()); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpCreate, err)
	}
	if err := e.cache.Put(ctx, confirmed); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpCreate, err)
	}

	e.options.Metrics.RecordMutation(kind, OpCreate, OutcomeConfirmed)
	return confirmed, nil
}

// Update applies a partial patch to a cached entity. The patched result is
// visible in the cache before any network activity; a failed online dispatch
// restores the pre-mutation value (unless the kind is financial).
func (e *Engine) Update(ctx context.Context, kind entity.Kind, id string, patch []byte) (entity.Entity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	prior, err := e.cache.GetByID(ctx, kind, id)
	if errors.Is(err, ErrCacheMiss) {
		e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeRejected)
		return nil, syncErrors.NewNotFoundError(syncErrors.OpUpdate, errors.New("entity not found locally: "+id))
	}
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpUpdate, err)
	}

	patched, err := entity.ApplyPatch(prior, patch)
	if err != nil {
		e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeRejected)
		return nil, syncErrors.NewValidationError(syncErrors.OpUpdate, err)
	}
	patched.Touch(time.Now().UTC())
	if err := patched.Validate(); err != nil {
		e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeRejected)
		return nil, syncErrors.NewValidationError(syncErrors.OpUpdate, err)
	}

	if err := e.cache.Put(ctx, patched); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpUpdate, err)
	}

	if !e.monitor.Online() {
		entry := NewEntry(OpUpdate, kind, id, prior.Scope(), patch)
		if err := e.outbox.Enqueue(ctx, entry); err != nil {
			_ = e.cache.Put(ctx, prior)
			return nil, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
		}
		e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeQueued)
		e.recordPending(ctx)
		return patched, nil
	}

	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	confirmed, err := e.remote.Update(opCtx, kind, id, patch)
	if err != nil {
		if kind.Financial() {
			e.options.Logger.LogError(ctx, err, "update dispatch failed, keeping financial record",
				slog.String("kind", kind.String()),
				slog.String("entity_id", id))
			e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeKept)
			return patched, wrapRemoteErr(syncErrors.OpUpdate, err)
		}
		_ = e.cache.Put(ctx, prior)
		e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeRolledBack)
		return nil, wrapRemoteErr(syncErrors.OpUpdate, err)
	}

	if err := e.cache.Put(ctx, confirmed); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpUpdate, err)
	}

	e.options.Metrics.RecordMutation(kind, OpUpdate, OutcomeConfirmed)
	return confirmed, nil
}

// Delete removes a cached entity optimistically, then dispatches or queues
// the deletion. A failed online dispatch restores the entity (unless the
// kind is financial).
func (e *Engine) Delete(ctx context.Context, kind entity.Kind, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	prior, err := e.cache.GetByID(ctx, kind, id)
	if errors.Is(err, ErrCacheMiss) {
		e.options.Metrics.RecordMutation(kind, OpDelete, OutcomeRejected)
		return syncErrors.NewNotFoundError(syncErrors.OpDelete, errors.New("entity not found locally: "+id))
	}
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpDelete, err)
	}

	if err := e.cache.Remove(ctx, kind, id); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpDelete, err)
	}

	if !e.monitor.Online() {
		entry := NewEntry(OpDelete, kind, id, prior.Scope(), nil)
		if err := e.outbox.Enqueue(ctx, entry); err != nil {
			_ = e.cache.Put(ctx, prior)
			return syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
		}
		e.options.Metrics.RecordMutation(kind, OpDelete, OutcomeQueued)
		e.recordPending(ctx)
		return nil
	}

	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := e.remote.Delete(opCtx, kind, id); err != nil {
		if kind.Financial() {
			e.options.Logger.LogError(ctx, err, "delete dispatch failed, keeping local deletion",
				slog.String("kind", kind.String()),
				slog.String("entity_id", id))
			e.options.Metrics.RecordMutation(kind, OpDelete, OutcomeKept)
			return wrapRemoteErr(syncErrors.OpDelete, err)
		}
		_ = e.cache.Put(ctx, prior)
		e.options.Metrics.RecordMutation(kind, OpDelete, OutcomeRolledBack)
		return wrapRemoteErr(syncErrors.OpDelete, err)
	}

	e.options.Metrics.RecordMutation(kind, OpDelete, OutcomeConfirmed)
	return nil
}

// Cached returns the locally cached collection for a kind and scope. It
// reflects the most recent operation issued, confirmed or not.
func (e *Engine) Cached(ctx context.Context, kind entity.Kind, scopeID string) ([]entity.Entity, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	entities, err := e.cache.Get(ctx, kind, scopeID)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpCache, err)
	}
	return entities, nil
}

// PendingCount returns the number of unsynced mutations. Nonzero means the
// client has local changes awaiting replay.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	n, err := e.outbox.Count(ctx)
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}
	return n, nil
}

// Online reports the connectivity monitor's current state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// LastReplayError returns the error that halted the most recent replay pass,
// or nil if it completed. Replay runs detached from any caller, so this is
// the aggregate error surface.
func (e *Engine) LastReplayError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReplayErr
}

// Subscribe registers a handler invoked after every replay pass.
func (e *Engine) Subscribe(handler func(*ReplayResult)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.subscribers = append(e.subscribers, handler)
	return nil
}

// Close shuts down the engine and its storage and remote collaborators. The
// connectivity monitor is owned by the caller and is not closed here.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	var errs []error
	if err := e.outbox.Close(); err != nil {
		errs = append(errs, syncErrors.WrapOpComponent(err, syncErrors.OpClose, "outbox"))
	}
	if err := e.cache.Close(); err != nil {
		errs = append(errs, syncErrors.WrapOpComponent(err, syncErrors.OpClose, "cache"))
	}
	if err := e.remote.Close(); err != nil {
		errs = append(errs, syncErrors.WrapOpComponent(err, syncErrors.OpClose, "remote"))
	}
	return errors.Join(errs...)
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.options.Timeout)
}

func (e *Engine) recordPending(ctx context.Context) {
	if n, err := e.outbox.Count(ctx); err == nil {
		e.options.Metrics.RecordPending(n)
	}
}

func (e *Engine) setLastReplayError(err error) {
	e.mu.Lock()
	e.lastReplayErr = err
	e.mu.Unlock()
}

func (e *Engine) notifySubscribers(result *ReplayResult) {
	e.mu.RLock()
	subscribers := make([]func(*ReplayResult), len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mu.RUnlock()

	for _, handler := range subscribers {
		go func(h func(*ReplayResult)) {
			defer func() {
				_ = recover()
			}()
			h(result)
		}(handler)
	}
}

// wrapRemoteErr keeps structured errors from the remote client intact and
// wraps anything else as a network failure for the given op.
func wrapRemoteErr(op syncErrors.Operation, err error) error {
	var syncErr *syncErrors.SyncError
	if errors.As(err, &syncErr) {
		return err
	}
	return syncErrors.NewNetworkError(op, err)
}
