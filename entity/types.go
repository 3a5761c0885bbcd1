package entity

import (
	"time"

	validation "github.com/jellydator/validation"
)

// Product is a sellable catalog item. Price is in minor currency units.
type Product struct {
	ID        string    `json:"id"`
	ScopeID   string    `json:"scope_id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku,omitempty"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Product) EntityID() string { return p.ID }
func (p *Product) Kind() Kind       { return KindProduct }
func (p *Product) Scope() string    { return p.ScopeID }

func (p *Product) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ScopeID, validation.Required),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Price, validation.Min(int64(0))),
		validation.Field(&p.Stock, validation.Min(0)),
	)
}

func (p *Product) Clone() Entity {
	clone := *p
	return &clone
}

func (p *Product) SetID(id string) { p.ID = id }

func (p *Product) Touch(now time.Time) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// Customer is a buyer record.
type Customer struct {
	ID        string    `json:"id"`
	ScopeID   string    `json:"scope_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Customer) EntityID() string { return c.ID }
func (c *Customer) Kind() Kind       { return KindCustomer }
func (c *Customer) Scope() string    { return c.ScopeID }

func (c *Customer) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ScopeID, validation.Required),
		validation.Field(&c.Name, validation.Required, validation.Length(1, 255)),
	)
}

func (c *Customer) Clone() Entity {
	clone := *c
	return &clone
}

func (c *Customer) SetID(id string) { c.ID = id }

func (c *Customer) Touch(now time.Time) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// Line is one item position on a sales transaction.
type Line struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Qty       int    `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

func (l Line) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ProductID, validation.Required),
		validation.Field(&l.Qty, validation.Required, validation.Min(1)),
		validation.Field(&l.UnitPrice, validation.Min(int64(0))),
	)
}

// Transaction is a completed sale. It is a financial record: the engine keeps
// its optimistic local copy even when the remote dispatch fails.
type Transaction struct {
	ID         string    `json:"id"`
	ScopeID    string    `json:"scope_id"`
	CustomerID string    `json:"customer_id,omitempty"`
	Lines      []Line    `json:"lines"`
	Total      int64     `json:"total"`
	PaidAt     time.Time `json:"paid_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t *Transaction) EntityID() string { return t.ID }
func (t *Transaction) Kind() Kind       { return KindTransaction }
func (t *Transaction) Scope() string    { return t.ScopeID }

func (t *Transaction) Validate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.ScopeID, validation.Required),
		validation.Field(&t.Lines, validation.Required),
		validation.Field(&t.Total, validation.Min(int64(0))),
	)
}

func (t *Transaction) Clone() Entity {
	clone := *t
	if t.Lines != nil {
		clone.Lines = make([]Line, len(t.Lines))
		copy(clone.Lines, t.Lines)
	}
	return &clone
}

func (t *Transaction) SetID(id string) { t.ID = id }

func (t *Transaction) Touch(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// Compile-time interface checks.
var (
	_ Entity = (*Product)(nil)
	_ Entity = (*Customer)(nil)
	_ Entity = (*Transaction)(nil)
)
