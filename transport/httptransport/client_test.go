package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillsync/tillsync/entity"
	syncErrors "github.com/tillsync/tillsync/errors"
)

func noRetry() Option {
	return WithRetryConfig(0, time.Millisecond, time.Millisecond)
}

func fastRetry(max int) Option {
	return WithRetryConfig(max, time.Millisecond, 5*time.Millisecond)
}

func TestClientCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/products", r.URL.Path)

		var p entity.Product
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "Espresso", p.Name)

		p.ID = "srv-100"
		json.NewEncoder(w).Encode(p)
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	confirmed, err := client.Create(context.Background(), &entity.Product{
		ID:      entity.NewTempID(),
		ScopeID: "store-1",
		Name:    "Espresso",
		SKU:     "ESP-1",
		Price:   250,
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-100", confirmed.EntityID())
}

func TestClientUpdate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/products/srv-100", r.URL.Path)

		var patch map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		assert.Equal(t, "Flat White", patch["name"])

		json.NewEncoder(w).Encode(entity.Product{ID: "srv-100", ScopeID: "store-1", Name: "Flat White"})
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	updated, err := client.Update(context.Background(), entity.KindProduct, "srv-100", []byte(`{"name":"Flat White"}`))
	require.NoError(t, err)
	assert.Equal(t, "Flat White", updated.(*entity.Product).Name)
}

func TestClientUpdateNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such product", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	_, err := client.Update(context.Background(), entity.KindProduct, "nope", []byte(`{}`))
	assert.True(t, syncErrors.IsNotFound(err))
	assert.False(t, syncErrors.IsRetryable(err))
}

func TestClientDelete(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/customers/c1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	require.NoError(t, client.Delete(context.Background(), entity.KindCustomer, "c1"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientDeleteTolerates404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already gone", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	assert.NoError(t, client.Delete(context.Background(), entity.KindCustomer, "c1"))
}

func TestClientList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "store-1", r.URL.Query().Get("scope"))

		json.NewEncoder(w).Encode([]entity.Product{
			{ID: "p1", ScopeID: "store-1", Name: "Espresso"},
			{ID: "p2", ScopeID: "store-1", Name: "Latte"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry())
	got, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].EntityID())
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]entity.Product{})
	}))
	defer server.Close()

	client := NewClient(server.URL, fastRetry(3))
	_, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad patch", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient(server.URL, fastRetry(3))
	_, err := client.Update(context.Background(), entity.KindProduct, "p1", []byte(`{}`))
	require.Error(t, err)
	assert.False(t, syncErrors.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, fastRetry(2))
	_, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry(), WithRequestTimeout(50*time.Millisecond))
	_, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
}

func TestClientResponseSizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	client := NewClient(server.URL, noRetry(), WithMaxResponseSize(1024))
	_, err := client.List(context.Background(), entity.KindProduct, "store-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}
