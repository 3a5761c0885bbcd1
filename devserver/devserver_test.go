package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
	"github.com/tillsync/tillsync/transport/httptransport"
)

func newTestClient(t *testing.T) (*Server, *httptransport.Client) {
	t.Helper()
	srv := New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client := httptransport.NewClient(ts.URL,
		httptransport.WithRetryConfig(0, time.Millisecond, time.Millisecond))
	return srv, client
}

func TestCreateAssignsServerID(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	confirmed, err := client.Create(ctx, &entity.Product{
		ID:      entity.NewTempID(),
		ScopeID: "store-1",
		Name:    "Espresso",
		SKU:     "ESP-1",
		Price:   250,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(confirmed.EntityID(), "srv-"))
	assert.False(t, entity.IsTempID(confirmed.EntityID()))

	stored := srv.Entities(entity.KindProduct, "store-1")
	require.Len(t, stored, 1)
	assert.Equal(t, confirmed.EntityID(), stored[0].EntityID())
}

func TestUpdateAppliesPatch(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	srv.Seed(&entity.Product{ID: "srv-1", ScopeID: "store-1", Name: "Espresso", SKU: "ESP-1", Price: 250})

	updated, err := client.Update(ctx, entity.KindProduct, "srv-1", []byte(`{"price":300}`))
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.(*entity.Product).Price)
	assert.Equal(t, "Espresso", updated.(*entity.Product).Name)
}

func TestUpdateUnknownIDReturns404(t *testing.T) {
	_, client := newTestClient(t)

	_, err := client.Update(context.Background(), entity.KindProduct, "srv-missing", []byte(`{}`))
	assert.True(t, syncErrors.IsNotFound(err))
}

func TestDeleteRemoves(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	srv.Seed(&entity.Customer{ID: "srv-c1", ScopeID: "store-1", Name: "Ada"})

	require.NoError(t, client.Delete(ctx, entity.KindCustomer, "srv-c1"))
	assert.Empty(t, srv.Entities(entity.KindCustomer, "store-1"))
}

func TestListFiltersByScope(t *testing.T) {
	srv, client := newTestClient(t)

	srv.Seed(&entity.Product{ID: "srv-1", ScopeID: "store-1", Name: "A", SKU: "A", Price: 1})
	srv.Seed(&entity.Product{ID: "srv-2", ScopeID: "store-2", Name: "B", SKU: "B", Price: 1})

	got, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].EntityID())
}

func TestFailInjection(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	srv.Fail(entity.KindProduct, tillsync.OpCreate, 1)

	_, err := client.Create(ctx, &entity.Product{ID: entity.NewTempID(), ScopeID: "s", Name: "X", SKU: "X", Price: 1})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))

	// The armed failure is consumed; the next call succeeds.
	_, err = client.Create(ctx, &entity.Product{ID: entity.NewTempID(), ScopeID: "s", Name: "X", SKU: "X", Price: 1})
	assert.NoError(t, err)
}

func TestRequestLogPreservesOrder(t *testing.T) {
	srv, client := newTestClient(t)
	ctx := context.Background()

	srv.Seed(&entity.Product{ID: "srv-1", ScopeID: "s", Name: "A", SKU: "A", Price: 1})

	_, err := client.Update(ctx, entity.KindProduct, "srv-1", []byte(`{"price":2}`))
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, entity.KindProduct, "srv-1"))

	log := srv.Requests()
	require.Len(t, log, 2)
	assert.Equal(t, tillsync.OpUpdate, log[0].Op)
	assert.Equal(t, tillsync.OpDelete, log[1].Op)
}
