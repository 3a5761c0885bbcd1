package entity

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec maps a Kind to its concrete type so storage and transport can decode
// raw payloads without importing every entity type.
type Codec interface {
	Kind() Kind
	// New returns a zero value of the concrete type, ready for unmarshaling.
	New() Entity
}

var (
	registry   = map[Kind]Codec{}
	registryMu sync.RWMutex
)

// Register adds a codec to the registry, replacing any codec for the same kind.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Kind()] = c
}

// Lookup returns the codec for a kind.
func Lookup(kind Kind) (Codec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[kind]
	return c, ok
}

// Encode serializes an entity to its JSON wire/storage form.
func Encode(e Entity) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s entity: %w", e.Kind(), err)
	}
	return data, nil
}

// Decode deserializes data into the concrete type registered for kind.
func Decode(kind Kind, data []byte) (Entity, error) {
	codec, ok := Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
	e := codec.New()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s entity: %w", kind, err)
	}
	return e, nil
}

// ApplyPatch applies a JSON merge patch (shallow, null removes a key) to an
// entity and returns the patched copy decoded through the kind's codec.
// Identity fields (id, scope_id, created_at) always come from the original:
// a patch may not move a record between tenants or rewrite its id.
func ApplyPatch(e Entity, patch json.RawMessage) (Entity, error) {
	if len(patch) == 0 {
		return e.Clone(), nil
	}

	base, err := Encode(e)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, fmt.Errorf("apply patch: decode base: %w", err)
	}

	var patchMap map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, fmt.Errorf("apply patch: patch must be a JSON object: %w", err)
	}

	for k, v := range patchMap {
		switch k {
		case "id", "scope_id", "created_at":
			continue
		}
		if string(v) == "null" {
			delete(baseMap, k)
			continue
		}
		baseMap[k] = v
	}

	merged, err := json.Marshal(baseMap)
	if err != nil {
		return nil, fmt.Errorf("apply patch: encode merged: %w", err)
	}

	return Decode(e.Kind(), merged)
}

type productCodec struct{}

func (productCodec) Kind() Kind  { return KindProduct }
func (productCodec) New() Entity { return &Product{} }

type customerCodec struct{}

func (customerCodec) Kind() Kind  { return KindCustomer }
func (customerCodec) New() Entity { return &Customer{} }

type transactionCodec struct{}

func (transactionCodec) Kind() Kind  { return KindTransaction }
func (transactionCodec) New() Entity { return &Transaction{} }

func init() {
	Register(productCodec{})
	Register(customerCodec{})
	Register(transactionCodec{})
}
