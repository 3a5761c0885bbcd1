package tillsync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
)

// SyncNow runs one replay pass: pending outbox entries are dispatched in
// strict FIFO order, each removed only after its remote call succeeds. The
// first failure halts the pass and leaves the failing entry and everything
// behind it queued, in order. Afterwards the cached collections for every
// kind and scope a replayed entry touched are reconciled with the remote
// state.
//
// The returned error covers only whether the pass could run (engine closed,
// replay already in progress). A halt is reported in ReplayResult.Err and
// via LastReplayError, since replay is detached from any one caller.
func (e *Engine) SyncNow(ctx context.Context) (*ReplayResult, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.replaying {
		e.mu.Unlock()
		return nil, ErrReplayInProgress
	}
	e.replaying = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.replaying = false
		e.mu.Unlock()
	}()

	result := &ReplayResult{StartTime: time.Now()}
	touched := map[entity.Kind]map[string]struct{}{}

	for {
		select {
		case <-ctx.Done():
			result.Err = syncErrors.NewRetryable(syncErrors.OpReplay, ctx.Err())
		default:
		}
		if result.Err != nil {
			break
		}

		entry, err := e.outbox.Next(ctx)
		if errors.Is(err, ErrOutboxEmpty) {
			break
		}
		if err != nil {
			result.Err = syncErrors.NewStorageError(syncErrors.OpReplay, err)
			break
		}

		if err := e.replayEntry(ctx, entry); err != nil {
			result.Err = err
			e.options.Logger.LogError(ctx, err, "replay pass halted",
				slog.Uint64("seq", entry.Seq),
				slog.String("op", string(entry.Op)),
				slog.String("kind", entry.Kind.String()),
				slog.String("entity_id", entry.EntityID))
			break
		}

		result.Replayed++
		scopes, ok := touched[entry.Kind]
		if !ok {
			scopes = map[string]struct{}{}
			touched[entry.Kind] = scopes
		}
		scopes[entry.ScopeID] = struct{}{}
	}

	e.setLastReplayError(result.Err)

	if remaining, err := e.outbox.Count(ctx); err == nil {
		result.Remaining = remaining
		e.options.Metrics.RecordPending(remaining)
	}

	e.refreshTouched(ctx, touched, result)

	result.Duration = time.Since(result.StartTime)
	e.options.Metrics.RecordReplay(result.Duration, result.Replayed, result.Remaining)
	e.notifySubscribers(result)
	return result, nil
}

// replayEntry dispatches one outbox entry and removes it on success. The
// cache writes for a single entry form one atomic step under the mutation
// lock, same as a live mutation.
func (e *Engine) replayEntry(ctx context.Context, entry *Entry) error {
	e.mutMu.Lock()
	defer e.mutMu.Unlock()

	opCtx, cancel := e.withTimeout(ctx)
	defer cancel()

	switch entry.Op {
	case OpCreate:
		ent, err := entity.Decode(entry.Kind, entry.Payload)
		if err != nil {
			return syncErrors.New(syncErrors.OpReplay, err)
		}
		confirmed, err := e.remote.Create(opCtx, ent)
		if err != nil {
			return wrapRemoteErr(syncErrors.OpReplay, err)
		}
		if err := e.cache.Remove(ctx, entry.Kind, entry.EntityID); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpReplay, err)
		}
		if err := e.cache.Put(ctx, confirmed); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpReplay, err)
		}
		// Later entries queued against the temporary id must follow the
		// record to its server-assigned id.
		if entry.EntityID != confirmed.EntityID() {
			if err := e.outbox.RemapEntityID(ctx, entry.Kind, entry.EntityID, confirmed.EntityID()); err != nil {
				return syncErrors.NewStorageError(syncErrors.OpReplay, err)
			}
		}

	case OpUpdate:
		confirmed, err := e.remote.Update(opCtx, entry.Kind, entry.EntityID, entry.Payload)
		if err != nil {
			return wrapRemoteErr(syncErrors.OpReplay, err)
		}
		if err := e.cache.Put(ctx, confirmed); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpReplay, err)
		}

	case OpDelete:
		if err := e.remote.Delete(opCtx, entry.Kind, entry.EntityID); err != nil {
			return wrapRemoteErr(syncErrors.OpReplay, err)
		}

	default:
		return syncErrors.New(syncErrors.OpReplay, errors.New("unknown outbox operation: "+string(entry.Op)))
	}

	if err := e.outbox.Remove(ctx, entry.ID); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpReplay, err)
	}
	return nil
}

// refreshTouched refetches the authoritative collections for every kind and
// scope a replayed entry touched and swaps them into the cache, reconciling
// any server-side changes that happened concurrently.
func (e *Engine) refreshTouched(ctx context.Context, touched map[entity.Kind]map[string]struct{}, result *ReplayResult) {
	if len(touched) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	refreshed := map[entity.Kind]struct{}{}

	for kind, scopes := range touched {
		for scope := range scopes {
			g.Go(func() error {
				opCtx, cancel := e.withTimeout(gctx)
				defer cancel()

				entities, err := e.remote.List(opCtx, kind, scope)
				if err != nil {
					return wrapRemoteErr(syncErrors.OpRefetch, err)
				}

				e.mutMu.Lock()
				defer e.mutMu.Unlock()
				if err := e.cache.ReplaceAll(ctx, kind, scope, entities); err != nil {
					return syncErrors.NewStorageError(syncErrors.OpRefetch, err)
				}

				mu.Lock()
				refreshed[kind] = struct{}{}
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		e.options.Logger.LogError(ctx, err, "post-replay refetch failed")
		if result.Err == nil {
			result.Err = err
			e.setLastReplayError(err)
		}
	}

	kinds := make([]entity.Kind, 0, len(refreshed))
	for kind := range refreshed {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	result.KindsRefreshed = kinds
}
