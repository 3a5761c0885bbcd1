// Package entity defines the domain records managed by the sync core:
// products, customers and sales transactions, all scoped to a tenant.
//
// Entities move between three owners: the local cache (while unconfirmed),
// the outbox (as serialized mutation payloads) and the remote system (once
// confirmed). A kind-keyed codec registry lets storage and transport decode
// raw payloads back into concrete types without knowing about them.
package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an entity collection.
type Kind string

const (
	KindProduct     Kind = "product"
	KindCustomer    Kind = "customer"
	KindTransaction Kind = "transaction"
)

// Kinds returns all known entity kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindProduct, KindCustomer, KindTransaction}
}

// Valid reports whether k names a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProduct, KindCustomer, KindTransaction:
		return true
	}
	return false
}

// Financial reports whether records of this kind are financial documents.
// Financial records are never rolled back after a failed remote dispatch:
// discarding a completed sale's local copy risks losing the sale outright,
// which is worse than a sync delay.
func (k Kind) Financial() bool {
	return k == KindTransaction
}

func (k Kind) String() string { return string(k) }

// Entity is the common contract for all synced domain records.
type Entity interface {
	// EntityID returns the record's identifier. For unconfirmed creates this
	// is a client-generated temporary id, replaced wholesale by the
	// server-assigned id after confirmation.
	EntityID() string

	// Kind returns the entity collection this record belongs to.
	Kind() Kind

	// Scope returns the tenant/company id the record is scoped to.
	Scope() string

	// Validate checks domain invariants before any cache or remote mutation.
	Validate() error

	// Clone returns a deep copy. The engine snapshots cached values through
	// Clone so rollback restores are not aliased to live records.
	Clone() Entity

	// SetID overwrites the record's identifier.
	SetID(id string)

	// Touch stamps UpdatedAt with now, and CreatedAt too if unset.
	Touch(now time.Time)
}

const tempIDPrefix = "tmp-"

// NewTempID returns a client-generated temporary identifier. The prefix keeps
// the client id space disjoint from server-assigned ids so a confirmed create
// can never collide with its own optimistic copy.
func NewTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
