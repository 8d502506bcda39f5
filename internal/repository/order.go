package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/domain/order"
)

const (
	decrementProductStockSQL = `UPDATE products SET stock_quantity = stock_quantity - $3, updated_at = now()
		WHERE store_id = $1 AND id = $2 AND stock_quantity >= $3`

	decrementVariantStockSQL = `UPDATE product_variants v SET stock_quantity = v.stock_quantity - $4
		FROM products p
		WHERE p.id = v.product_id AND p.store_id = $1
			AND v.product_id = $2 AND v.id = $3 AND v.stock_quantity >= $4`

	insertOrderSQL = `INSERT INTO orders (id, store_id, code, employee_id, customer_id,
			total_amount, discount_amount, status, payment_method, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, product_id, variant_id,
			quantity, unit_price, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	orderCodeConstraint = "orders_store_code_key"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore runs order units of work in PostgreSQL transactions.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Stock consistency comes from
// the row locks taken by LoadProducts and the guarded decrements. Serialization
// failures and deadlocks are reported as order.ErrTransactionConflict.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// classify maps transient concurrency failures to order.ErrTransactionConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%w: %w", order.ErrTransactionConflict, err)
		}
	}
	return err
}

type orderTx struct {
	tx pgx.Tx
}

var _ order.Tx = (*orderTx)(nil)

func (t *orderTx) LoadProducts(ctx context.Context, storeID string, ids []string) ([]catalog.Product, error) {
	return loadProducts(ctx, t.tx, storeID, ids, true)
}

func (t *orderTx) DecrementStock(ctx context.Context, storeID string, b order.Bucket, qty int) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch b.Kind {
	case order.BucketVariant:
		tag, err = t.tx.Exec(ctx, decrementVariantStockSQL, storeID, b.ProductID, b.VariantID, qty)
	default:
		tag, err = t.tx.Exec(ctx, decrementProductStockSQL, storeID, b.ProductID, qty)
	}
	if err != nil {
		return fmt.Errorf("decrementing stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrTransactionConflict
	}
	return nil
}

// Insert writes the order and its items under a savepoint so that a code
// collision leaves the outer transaction usable.
func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}
	defer func() { _ = sp.Rollback(ctx) }()

	_, err = sp.Exec(ctx, insertOrderSQL,
		o.ID, o.StoreID, o.Code, o.EmployeeID, o.CustomerID,
		o.Total, o.Discount, o.Status, o.PaymentMethod, o.PaymentStatus, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == orderCodeConstraint {
			return fmt.Errorf("%w: %s", order.ErrDuplicateCode, o.Code)
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(insertOrderItemSQL,
			it.ID, o.ID, i, it.ProductID, it.VariantID, it.Quantity, it.UnitPrice, it.Total,
		)
	}
	if err := sp.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

const (
	orderSummaryColumns = `id, store_id, code, employee_id::text, customer_id::text,
		total_amount, discount_amount, status, payment_method, payment_status, created_at`

	getOrderSQL = `SELECT ` + orderSummaryColumns + `
		FROM orders WHERE store_id = $1 AND id = $2`

	getOrderItemsSQL = `SELECT i.id, i.product_id, COALESCE(p.name, ''), COALESCE(p.barcode, ''),
			i.variant_id::text, COALESCE(v.sku, ''), COALESCE(v.size, ''), COALESCE(v.color, ''),
			i.quantity, i.unit_price, i.total
		FROM order_items i
		LEFT JOIN products p ON p.id = i.product_id
		LEFT JOIN product_variants v ON v.id = i.variant_id
		WHERE i.order_id = $1
		ORDER BY i.position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3 WHERE store_id = $1 AND id = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Count returns the number of orders of the store matching f.
func (r *OrderRepository) Count(ctx context.Context, storeID string, f order.Filter) (int, error) {
	where, args := orderFilter(storeID, f)
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders: %w", err)
	}
	return n, nil
}

// List returns a page of orders of the store matching f, newest first.
func (r *OrderRepository) List(ctx context.Context, storeID string, f order.Filter, offset, limit int) ([]order.Summary, error) {
	where, args := orderFilter(storeID, f)
	args = append(args, limit, offset)
	sql := `SELECT ` + orderSummaryColumns + ` FROM orders WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, scanOrderSummary)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return summaries, nil
}

// Get returns an order with its items joined to product and variant display
// fields.
func (r *OrderRepository) Get(ctx context.Context, storeID, id string, customerID *string) (*order.Detail, error) {
	if uuid.Validate(id) != nil {
		return nil, order.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, getOrderSQL, storeID, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanOrderSummary)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if customerID != nil && (s.CustomerID == nil || *s.CustomerID != *customerID) {
		return nil, order.ErrNotFound
	}

	rows, err = r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	items, err := pgx.CollectRows(rows, scanDetailItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}

	return &order.Detail{Summary: s, Items: items}, nil
}

// UpdateStatus overwrites the status of an order of the store.
func (r *OrderRepository) UpdateStatus(ctx context.Context, storeID, id, status string) error {
	if uuid.Validate(id) != nil {
		return order.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, storeID, id, status)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// orderFilter builds the WHERE clause and its positional arguments.
func orderFilter(storeID string, f order.Filter) (string, []any) {
	conds := []string{"store_id = $1"}
	args := []any{storeID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.From != nil {
		add("created_at >= ?", *f.From)
	}
	if f.To != nil {
		add("created_at <= ?", *f.To)
	}
	if f.CustomerID != nil {
		add("customer_id = ?", *f.CustomerID)
	}
	return strings.Join(conds, " AND "), args
}

func scanOrderSummary(row pgx.CollectableRow) (order.Summary, error) {
	var s order.Summary
	err := row.Scan(
		&s.ID, &s.StoreID, &s.Code, &s.EmployeeID, &s.CustomerID,
		&s.Total, &s.Discount, &s.Status, &s.PaymentMethod, &s.PaymentStatus, &s.CreatedAt,
	)
	return s, err
}

func scanDetailItem(row pgx.CollectableRow) (order.DetailItem, error) {
	var it order.DetailItem
	err := row.Scan(
		&it.ID, &it.ProductID, &it.ProductName, &it.Barcode,
		&it.VariantID, &it.SKU, &it.Size, &it.Color,
		&it.Quantity, &it.UnitPrice, &it.Total,
	)
	return it, err
}

// validUUIDs drops ids that are not UUIDs; they cannot match any row.
func validUUIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuid.Validate(id) == nil {
			out = append(out, id)
		}
	}
	return out
}
