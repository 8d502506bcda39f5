package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind is the machine-readable category of an order error.
type Kind string

const (
	KindEmptyItems          Kind = "EmptyItems"
	KindInvalidQuantity     Kind = "InvalidQuantity"
	KindInvalidDiscount     Kind = "InvalidDiscount"
	KindAmountOutOfRange    Kind = "AmountOutOfRange"
	KindProductNotFound     Kind = "ProductNotFound"
	KindVariantNotFound     Kind = "VariantNotFound"
	KindVariantRequired     Kind = "VariantRequired"
	KindInsufficientStock   Kind = "InsufficientStock"
	KindCustomerNotFound    Kind = "CustomerNotFound"
	KindTransactionConflict Kind = "TransactionConflict"
	KindNotFound            Kind = "NotFound"
	KindInvalidStatus       Kind = "InvalidStatus"
	KindForbidden           Kind = "Forbidden"
	KindInternal            Kind = "Internal"
)

// Sentinel errors for order operations.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidDiscount = errors.New("discount must be non-negative and below 10^16")
	// ErrAmountOutOfRange reports a line or order amount too large to store.
	ErrAmountOutOfRange = errors.New("amount out of range")
	ErrCustomerNotFound = errors.New("customer not found or does not belong to this store")
	// ErrTransactionConflict reports a concurrent stock update detected by the
	// store. Callers may retry with fresh data.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrDuplicateCode reports an order code already used in the store.
	ErrDuplicateCode = errors.New("duplicate order code")
	ErrNotFound      = errors.New("order not found")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrForbidden     = errors.New("operation not permitted for caller")
)

// InvalidQuantityError indicates a line with quantity below one or above
// MaxQuantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and %d for product %s, got %d", MaxQuantity, e.ProductID, e.Quantity)
}

// ProductNotFoundError indicates a product missing from the store's catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// VariantNotFoundError indicates a variant that does not belong to the product.
type VariantNotFoundError struct {
	ProductID string
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found for product %s", e.VariantID, e.ProductID)
}

// VariantRequiredError indicates a line against a product with variants that
// did not select one.
type VariantRequiredError struct {
	ProductID   string
	ProductName string
}

func (e *VariantRequiredError) Error() string {
	return fmt.Sprintf("product %q has variants, a variant must be selected", e.ProductName)
}

// InsufficientStockError indicates a bucket holding less than requested.
type InsufficientStockError struct {
	Bucket    Bucket
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Bucket, e.Requested, e.Available)
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	var (
		iqErr  *InvalidQuantityError
		pnfErr *ProductNotFoundError
		vnfErr *VariantNotFoundError
		vrErr  *VariantRequiredError
		isErr  *InsufficientStockError
	)
	switch {
	case errors.Is(err, ErrEmptyItems):
		return KindEmptyItems
	case errors.As(err, &iqErr):
		return KindInvalidQuantity
	case errors.Is(err, ErrInvalidDiscount):
		return KindInvalidDiscount
	case errors.Is(err, ErrAmountOutOfRange):
		return KindAmountOutOfRange
	case errors.As(err, &pnfErr):
		return KindProductNotFound
	case errors.As(err, &vnfErr):
		return KindVariantNotFound
	case errors.As(err, &vrErr):
		return KindVariantRequired
	case errors.As(err, &isErr):
		return KindInsufficientStock
	case errors.Is(err, ErrCustomerNotFound):
		return KindCustomerNotFound
	case errors.Is(err, ErrTransactionConflict):
		return KindTransactionConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidStatus):
		return KindInvalidStatus
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}
