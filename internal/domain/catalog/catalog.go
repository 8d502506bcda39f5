// Package catalog holds the read-only product snapshot the order engine
// prices and deducts against.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist in the store.
var ErrNotFound = errors.New("product not found")

// Product is a sellable catalog item owned by exactly one store.
//
// When Variants is non-empty the base Stock is not sellable; every order line
// against the product must name a variant.
type Product struct {
	ID       string
	StoreID  string
	Name     string
	Barcode  string
	Price    decimal.Decimal
	Stock    int
	Active   bool
	Variants []Variant
}

// HasVariants reports whether a variant must be selected to sell the product.
func (p *Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Variant is a concrete sellable form of a product (size, color, ...).
type Variant struct {
	ID            string
	ProductID     string
	SKU           string
	Size          string
	Color         string
	PriceOverride decimal.NullDecimal
	Stock         int
}

// Reader loads a store-scoped snapshot of products with their variants.
// Ids that do not belong to the store are silently absent from the result.
type Reader interface {
	LoadProducts(ctx context.Context, storeID string, ids []string) ([]Product, error)
}

// Repository adds the browse paths used by the catalog endpoints.
type Repository interface {
	Reader
	List(ctx context.Context, storeID string) ([]Product, error)
	GetByID(ctx context.Context, storeID, id string) (*Product, error)
}
