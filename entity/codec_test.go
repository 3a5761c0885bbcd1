package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Product{
		ID:      "srv-1",
		ScopeID: "acme",
		Name:    "Tea",
		Price:   50,
		Stock:   10,
	}

	data, err := Encode(p)
	require.NoError(t, err)

	decoded, err := Decode(KindProduct, data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(Kind("invoice"), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity kind")
}

func TestLookup(t *testing.T) {
	for _, k := range Kinds() {
		codec, ok := Lookup(k)
		require.True(t, ok, k)
		assert.Equal(t, k, codec.New().Kind())
	}
	_, ok := Lookup(Kind("invoice"))
	assert.False(t, ok)
}

func TestApplyPatch(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := &Product{
		ID:        "srv-1",
		ScopeID:   "acme",
		Name:      "Tea",
		SKU:       "TEA-01",
		Price:     50,
		Stock:     10,
		CreatedAt: created,
	}

	t.Run("ChangesField", func(t *testing.T) {
		patched, err := ApplyPatch(base, json.RawMessage(`{"price": 60}`))
		require.NoError(t, err)

		product := patched.(*Product)
		assert.Equal(t, int64(60), product.Price)
		assert.Equal(t, "Tea", product.Name)
	})

	t.Run("NullRemovesField", func(t *testing.T) {
		patched, err := ApplyPatch(base, json.RawMessage(`{"sku": null}`))
		require.NoError(t, err)
		assert.Empty(t, patched.(*Product).SKU)
	})

	t.Run("IdentityFieldsProtected", func(t *testing.T) {
		patched, err := ApplyPatch(base, json.RawMessage(`{"id": "evil", "scope_id": "other", "created_at": "2030-01-01T00:00:00Z"}`))
		require.NoError(t, err)

		product := patched.(*Product)
		assert.Equal(t, "srv-1", product.ID)
		assert.Equal(t, "acme", product.ScopeID)
		assert.Equal(t, created, product.CreatedAt)
	})

	t.Run("EmptyPatchClones", func(t *testing.T) {
		patched, err := ApplyPatch(base, nil)
		require.NoError(t, err)
		assert.Equal(t, base, patched)
		assert.NotSame(t, base, patched)
	})

	t.Run("NonObjectPatch", func(t *testing.T) {
		_, err := ApplyPatch(base, json.RawMessage(`[1,2,3]`))
		assert.Error(t, err)
	})

	t.Run("DoesNotMutateOriginal", func(t *testing.T) {
		_, err := ApplyPatch(base, json.RawMessage(`{"price": 999}`))
		require.NoError(t, err)
		assert.Equal(t, int64(50), base.Price)
	})
}
