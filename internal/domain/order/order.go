package order

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/retail-orders/internal/domain/catalog"
)

// Values assigned at creation. The service assumes immediate point-of-sale
// fulfillment.
const (
	StatusCompleted   = "Completed"
	PaymentStatusPaid = "Paid"
)

// MaxQuantity is the largest quantity a single line may carry.
const MaxQuantity = math.MaxInt32

// MaxAmount is the exclusive upper bound of every stored money amount,
// which are NUMERIC(18,2) columns.
var MaxAmount = decimal.New(1, 16)

// Order is a placed order with its frozen line items.
type Order struct {
	ID            string
	StoreID       string
	Code          string
	EmployeeID    *string
	CustomerID    *string
	Items         []Item
	Total         decimal.Decimal
	Discount      decimal.Decimal
	Status        string
	PaymentMethod string
	PaymentStatus string
	CreatedAt     time.Time
}

// Item is a single priced line of an order. UnitPrice is the price charged at
// order time and does not follow later catalog changes.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	VariantID *string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Line is a requested cart line.
type Line struct {
	ProductID string
	VariantID *string
	Quantity  int
}

// CreateRequest holds the input for placing an order.
type CreateRequest struct {
	CustomerID    *string
	PaymentMethod string
	Discount      decimal.Decimal
	Lines         []Line
}

// Summary is the list projection of an order.
type Summary struct {
	ID            string
	StoreID       string
	Code          string
	EmployeeID    *string
	CustomerID    *string
	Total         decimal.Decimal
	Discount      decimal.Decimal
	Status        string
	PaymentMethod string
	PaymentStatus string
	CreatedAt     time.Time
}

// Detail is an order joined with product and variant display fields.
type Detail struct {
	Summary
	Items []DetailItem
}

// DetailItem is an order line with display fields of what was sold.
type DetailItem struct {
	ID          string
	ProductID   string
	ProductName string
	Barcode     string
	VariantID   *string
	SKU         string
	Size        string
	Color       string
	Quantity    int
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// Filter narrows an order listing.
type Filter struct {
	Status string
	From   *time.Time
	To     *time.Time
	// CustomerID restricts the listing to one customer's orders.
	CustomerID *string
}

// Page is one page of order summaries.
type Page struct {
	Items      []Summary
	TotalCount int
	PageNumber int
	PageSize   int
}

// Tx is the unit of work an order is created in. Products loaded through it
// stay locked until the unit of work ends.
type Tx interface {
	catalog.Reader
	// DecrementStock debits qty from the bucket. It returns
	// ErrTransactionConflict when the bucket no longer holds qty.
	DecrementStock(ctx context.Context, storeID string, b Bucket, qty int) error
	// Insert persists the order and its items. It returns ErrDuplicateCode
	// when the order code is taken in the store, leaving the unit of work usable.
	Insert(ctx context.Context, o *Order) error
}

// Store runs fn atomically: either every write made through tx is committed
// or none is.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository provides the read and status paths over persisted orders.
type Repository interface {
	Count(ctx context.Context, storeID string, f Filter) (int, error)
	List(ctx context.Context, storeID string, f Filter, offset, limit int) ([]Summary, error)
	// Get returns ErrNotFound when the order does not exist in the store or,
	// when customerID is set, belongs to another customer.
	Get(ctx context.Context, storeID, id string, customerID *string) (*Detail, error)
	UpdateStatus(ctx context.Context, storeID, id, status string) error
}

// Publisher announces committed orders to downstream consumers.
type Publisher interface {
	OrderCreated(ctx context.Context, o *Order) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// OrderCreated implements Publisher.
func (NopPublisher) OrderCreated(context.Context, *Order) error { return nil }
