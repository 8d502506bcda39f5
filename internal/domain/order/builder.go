package order

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-orders/internal/domain/directory"
)

const (
	codePrefix    = "ORD-"
	codeMinSuffix = 1000
	codeSuffixes  = 9000
	codeTries     = 8
)

// CodeGenerator issues human-readable order codes of the form
// ORD-yyMMdd-NNNN. It remembers the codes it issued today in a bloom filter
// and avoids offering them again. Uniqueness is still enforced by the store.
type CodeGenerator struct {
	mu     sync.Mutex
	now    func() time.Time
	intn   func(n int) int
	day    string
	issued *bloom.BloomFilter
}

// NewCodeGenerator returns a generator seeded from the wall clock.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{
		now:    time.Now,
		intn:   rand.IntN,
		issued: bloom.NewWithEstimates(codeSuffixes, 0.01),
	}
}

// Next returns a new order code.
func (g *CodeGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.now().UTC().Format("060102")
	if day != g.day {
		g.issued.ClearAll()
		g.day = day
	}

	var code string
	for range codeTries {
		code = codePrefix + day + "-" + strconv.Itoa(codeMinSuffix+g.intn(codeSuffixes))
		if !g.issued.TestString(code) {
			break
		}
	}
	g.issued.AddString(code)
	return code
}

// Builder assembles Order aggregates from priced lines.
type Builder struct {
	codes *CodeGenerator
	now   func() time.Time
	newID func() string
}

// NewBuilder creates a Builder drawing codes from codes.
func NewBuilder(codes *CodeGenerator) *Builder {
	return &Builder{
		codes: codes,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewCode returns a fresh order code.
func (b *Builder) NewCode() string {
	return b.codes.Next()
}

// Build creates the order. The discount is rounded to cents before the total
// is derived so that Total == max(0, sum(item totals) - Discount) holds exactly.
func (b *Builder) Build(
	storeID string,
	employee *directory.EmployeeRef,
	customer *directory.CustomerRef,
	req CreateRequest,
	lines []PricedLine,
) *Order {
	o := &Order{
		ID:            b.newID(),
		StoreID:       storeID,
		Code:          b.NewCode(),
		Discount:      req.Discount.Round(2),
		Status:        StatusCompleted,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: PaymentStatusPaid,
		CreatedAt:     b.now().UTC(),
		Items:         make([]Item, len(lines)),
	}
	if employee != nil {
		o.EmployeeID = &employee.ID
	}
	if customer != nil {
		o.CustomerID = &customer.ID
	}

	for i, l := range lines {
		o.Items[i] = Item{
			ID:        b.newID(),
			OrderID:   o.ID,
			ProductID: l.Line.ProductID,
			VariantID: l.Line.VariantID,
			Quantity:  l.Line.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     l.LineTotal,
		}
	}
	o.Total = Total(o.Items, o.Discount)
	return o
}

// Total returns the order total for items after discount, floored at zero and
// rounded to 2 decimal places.
func Total(items []Item, discount decimal.Decimal) decimal.Decimal {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Total)
	}
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.Round(2)
}
