package tillsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
)

func TestSyncNowEmptyOutbox(t *testing.T) {
	rig := newTestRig(t, true, nil)

	result, err := rig.engine.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Replayed)
	assert.Zero(t, result.Remaining)
	assert.NoError(t, result.Err)
	assert.Empty(t, result.KindsRefreshed)
}

func TestSyncNowReplaysInOrder(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	seeded := &entity.Product{ID: "srv-9", ScopeID: "store-1", Name: "Espresso", SKU: "E", Price: 500, Stock: 1}
	require.NoError(t, rig.cache.Put(ctx, seeded))
	rig.remote.seed(seeded.Clone())

	created, err := rig.engine.Create(ctx, newProduct("store-1", "Latte"))
	require.NoError(t, err)
	_, err = rig.engine.Update(ctx, entity.KindProduct, "srv-9", []byte(`{"price":550}`))
	require.NoError(t, err)
	require.NoError(t, rig.engine.Delete(ctx, entity.KindProduct, "srv-9"))

	rig.monitor.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := rig.engine.PendingCount(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond, "outbox never drained after reconnect")

	log := rig.remote.callLog()
	require.Len(t, log, 3)
	assert.Equal(t, "create product "+created.EntityID(), log[0])
	assert.Equal(t, "update product srv-9", log[1])
	assert.Equal(t, "delete product srv-9", log[2])

	assert.NoError(t, rig.engine.LastReplayError())
}

func TestSyncNowReplacesTempID(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	optimistic, err := rig.engine.Create(ctx, newProduct("store-1", "Latte"))
	require.NoError(t, err)
	require.True(t, entity.IsTempID(optimistic.EntityID()))

	result, err := rig.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Replayed)

	// The cache holds exactly one copy, under the server id. The temporary
	// id is gone.
	cached, err := rig.engine.Cached(ctx, entity.KindProduct, "store-1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "srv-1", cached[0].EntityID())
	assert.False(t, entity.IsTempID(cached[0].EntityID()))
	assert.Contains(t, result.KindsRefreshed, entity.KindProduct)
}

func TestSyncNowRemapsQueuedEntries(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	optimistic, err := rig.engine.Create(ctx, newProduct("store-1", "Latte"))
	require.NoError(t, err)
	_, err = rig.engine.Update(ctx, entity.KindProduct, optimistic.EntityID(), []byte(`{"price":800}`))
	require.NoError(t, err)

	result, err := rig.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Replayed)

	// The queued update followed the record to its server id.
	log := rig.remote.callLog()
	require.Len(t, log, 2)
	assert.Equal(t, "update product srv-1", log[1])

	cached, err := rig.engine.Cached(ctx, entity.KindProduct, "store-1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(800), cached[0].(*entity.Product).Price)
}

func TestSyncNowHaltsOnFailure(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	for _, id := range []string{"srv-a", "srv-b", "srv-c"} {
		p := &entity.Product{ID: id, ScopeID: "store-1", Name: "P-" + id, SKU: id, Price: 100, Stock: 1}
		require.NoError(t, rig.cache.Put(ctx, p))
		rig.remote.seed(p.Clone())
	}

	for _, id := range []string{"srv-a", "srv-b", "srv-c"} {
		_, err := rig.engine.Update(ctx, entity.KindProduct, id, []byte(`{"price":200}`))
		require.NoError(t, err)
	}

	rig.remote.failEntity("srv-b", 1)

	result, err := rig.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.Error(t, result.Err)
	assert.Equal(t, 1, result.Replayed)
	assert.Equal(t, 2, result.Remaining)
	assert.Error(t, rig.engine.LastReplayError())

	// The failing entry and everything behind it stay queued, in order.
	head, err := rig.outbox.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "srv-b", head.EntityID)

	// The next pass picks up exactly where the halted one stopped.
	result, err = rig.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Replayed)
	assert.Zero(t, result.Remaining)
	assert.NoError(t, rig.engine.LastReplayError())
}

func TestSyncNowRefetchReconciles(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	seeded := &entity.Product{ID: "srv-9", ScopeID: "store-1", Name: "Espresso", SKU: "E", Price: 500, Stock: 1}
	require.NoError(t, rig.cache.Put(ctx, seeded))
	rig.remote.seed(seeded.Clone())

	// Another till added a product while this one was offline.
	rig.remote.seed(&entity.Product{ID: "srv-77", ScopeID: "store-1", Name: "Mocha", SKU: "M", Price: 600, Stock: 2})

	_, err := rig.engine.Update(ctx, entity.KindProduct, "srv-9", []byte(`{"price":550}`))
	require.NoError(t, err)

	result, err := rig.engine.SyncNow(ctx)
	require.NoError(t, err)
	require.NoError(t, result.Err)

	cached, err := rig.engine.Cached(ctx, entity.KindProduct, "store-1")
	require.NoError(t, err)
	require.Len(t, cached, 2)
	assert.Equal(t, "srv-77", cached[1].EntityID())
	assert.Equal(t, int64(550), cached[0].(*entity.Product).Price)
}

func TestSyncNowGuardsAgainstConcurrentReplay(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	seeded := &entity.Product{ID: "srv-9", ScopeID: "store-1", Name: "Espresso", SKU: "E", Price: 500, Stock: 1}
	require.NoError(t, rig.cache.Put(ctx, seeded))
	rig.remote.seed(seeded.Clone())

	_, err := rig.engine.Update(ctx, entity.KindProduct, "srv-9", []byte(`{"price":550}`))
	require.NoError(t, err)

	rig.remote.blockUpdates = make(chan struct{})
	rig.remote.updateBlocked = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rig.engine.SyncNow(ctx)
	}()

	<-rig.remote.updateBlocked

	// A second trigger while replay runs is dropped, not queued.
	_, err = rig.engine.SyncNow(ctx)
	assert.ErrorIs(t, err, tillsync.ErrReplayInProgress)

	close(rig.remote.blockUpdates)
	<-done

	// Once the pass finishes the guard is released.
	_, err = rig.engine.SyncNow(ctx)
	assert.NoError(t, err)
}

func TestSubscribeReceivesResults(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	results := make(chan *tillsync.ReplayResult, 1)
	require.NoError(t, rig.engine.Subscribe(func(r *tillsync.ReplayResult) {
		select {
		case results <- r:
		default:
		}
	}))

	_, err := rig.engine.Create(ctx, newProduct("store-1", "Latte"))
	require.NoError(t, err)

	_, err = rig.engine.SyncNow(ctx)
	require.NoError(t, err)

	select {
	case r := <-results:
		assert.Equal(t, 1, r.Replayed)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never notified")
	}
}

func TestOfflineSaleSurvivesReconnect(t *testing.T) {
	rig := newTestRig(t, false, nil)
	ctx := context.Background()

	sale, err := rig.engine.Create(ctx, newTransaction("store-1"))
	require.NoError(t, err)
	require.True(t, entity.IsTempID(sale.EntityID()))

	rig.monitor.SetOnline(true)

	require.Eventually(t, func() bool {
		n, err := rig.engine.PendingCount(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)

	cached, err := rig.engine.Cached(ctx, entity.KindTransaction, "store-1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "srv-1", cached[0].EntityID())
}
