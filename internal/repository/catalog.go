package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/catalog"
)

const (
	productColumns = `id, store_id, name, COALESCE(barcode, ''), price, stock_quantity, active`

	listProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE store_id = $1 AND active ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products WHERE store_id = $1 AND id = $2`

	// Rows are locked in id order so concurrent orders over overlapping
	// carts queue instead of deadlocking.
	lockProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE store_id = $1 AND id = ANY($2::uuid[])
		ORDER BY id FOR UPDATE`

	variantColumns = `v.id, v.product_id, v.sku, COALESCE(v.size, ''), COALESCE(v.color, ''),
		v.price_override, v.stock_quantity`

	variantsByProductsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE p.store_id = $1 AND v.product_id = ANY($2::uuid[])
		ORDER BY v.product_id, v.sku, v.id`

	lockVariantsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE p.store_id = $1 AND v.product_id = ANY($2::uuid[])
		ORDER BY v.id FOR UPDATE OF v`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns the active products of a store with their variants.
func (r *CatalogRepository) List(ctx context.Context, storeID string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL, storeID)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	if err := attachVariants(ctx, r.pool, variantsByProductsSQL, storeID, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetByID returns a single product of the store.
func (r *CatalogRepository) GetByID(ctx context.Context, storeID, id string) (*catalog.Product, error) {
	if uuid.Validate(id) != nil {
		return nil, catalog.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getProductByIDSQL, storeID, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	products := []catalog.Product{p}
	if err := attachVariants(ctx, r.pool, variantsByProductsSQL, storeID, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// LoadProducts returns an unlocked snapshot of the requested products.
func (r *CatalogRepository) LoadProducts(ctx context.Context, storeID string, ids []string) ([]catalog.Product, error) {
	return loadProducts(ctx, r.pool, storeID, ids, false)
}

// loadProducts reads products of the store matching ids. With lock set the
// product and variant rows stay locked until the surrounding transaction ends.
func loadProducts(ctx context.Context, q querier, storeID string, ids []string, lock bool) ([]catalog.Product, error) {
	productsSQL, variantsSQL := getProductsByIDsSQL, variantsByProductsSQL
	if lock {
		productsSQL, variantsSQL = lockProductsSQL, lockVariantsSQL
	}

	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := q.Query(ctx, productsSQL, storeID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}
	if err := attachVariants(ctx, q, variantsSQL, storeID, products); err != nil {
		return nil, err
	}
	return products, nil
}

const getProductsByIDsSQL = `SELECT ` + productColumns + `
	FROM products WHERE store_id = $1 AND id = ANY($2::uuid[])`

func attachVariants(ctx context.Context, q querier, sql, storeID string, products []catalog.Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]string, len(products))
	index := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := q.Query(ctx, sql, storeID, ids)
	if err != nil {
		return fmt.Errorf("loading variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return fmt.Errorf("loading variants: %w", err)
	}

	for _, v := range variants {
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.StoreID, &p.Name, &p.Barcode, &p.Price, &p.Stock, &p.Active)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Size, &v.Color, &v.PriceOverride, &v.Stock)
	return v, err
}
