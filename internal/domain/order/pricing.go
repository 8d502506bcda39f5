package order

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-orders/internal/domain/catalog"
)

// BucketKind tells which stock counter a line debits.
type BucketKind uint8

const (
	// BucketBase is the product's own stock, used when it has no variants.
	BucketBase BucketKind = iota + 1
	// BucketVariant is the stock of one variant.
	BucketVariant
)

// Bucket is exactly one authoritative stock counter.
type Bucket struct {
	Kind      BucketKind
	ProductID string
	VariantID string
}

// BaseBucket returns the base stock bucket of a product.
func BaseBucket(productID string) Bucket {
	return Bucket{Kind: BucketBase, ProductID: productID}
}

// VariantBucket returns the stock bucket of a product variant.
func VariantBucket(productID, variantID string) Bucket {
	return Bucket{Kind: BucketVariant, ProductID: productID, VariantID: variantID}
}

func (b Bucket) String() string {
	if b.Kind == BucketVariant {
		return "product " + b.ProductID + " variant " + b.VariantID
	}
	return "product " + b.ProductID
}

// PricedLine is a validated line ready for deduction.
type PricedLine struct {
	Line      Line
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Bucket    Bucket
}

// PriceLines resolves the effective unit price and stock bucket of every line
// against a loaded catalog snapshot and checks that each bucket covers the
// combined demand of all lines debiting it. Line totals and their sum must
// stay below MaxAmount. It performs no I/O and mutates nothing.
func PriceLines(lines []Line, snapshot []catalog.Product) ([]PricedLine, error) {
	products := make(map[string]*catalog.Product, len(snapshot))
	for i := range snapshot {
		products[snapshot[i].ID] = &snapshot[i]
	}

	demand := make(map[Bucket]int, len(lines))
	subtotal := decimal.Zero
	out := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		p, ok := products[line.ProductID]
		if !ok || !p.Active {
			return nil, &ProductNotFoundError{ProductID: line.ProductID}
		}

		var (
			price  = p.Price
			stock  = p.Stock
			bucket = BaseBucket(p.ID)
		)
		switch {
		case line.VariantID != nil:
			v, ok := p.Variant(*line.VariantID)
			if !ok {
				return nil, &VariantNotFoundError{ProductID: p.ID, VariantID: *line.VariantID}
			}
			if v.PriceOverride.Valid {
				price = v.PriceOverride.Decimal
			}
			stock = v.Stock
			bucket = VariantBucket(p.ID, v.ID)
		case p.HasVariants():
			return nil, &VariantRequiredError{ProductID: p.ID, ProductName: p.Name}
		}

		taken := demand[bucket]
		if taken+line.Quantity > stock {
			return nil, &InsufficientStockError{
				Bucket:    bucket,
				Requested: line.Quantity,
				Available: max(stock-taken, 0),
			}
		}
		demand[bucket] = taken + line.Quantity

		lineTotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if lineTotal.GreaterThanOrEqual(MaxAmount) {
			return nil, errors.Wrapf(ErrAmountOutOfRange, "line total of %s", bucket)
		}
		subtotal = subtotal.Add(lineTotal)
		if subtotal.GreaterThanOrEqual(MaxAmount) {
			return nil, errors.Wrap(ErrAmountOutOfRange, "order subtotal")
		}

		out = append(out, PricedLine{
			Line:      line,
			UnitPrice: price,
			LineTotal: lineTotal,
			Bucket:    bucket,
		})
	}
	return out, nil
}
