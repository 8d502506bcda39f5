package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/catalog"
)

const (
	upsertProductSQL = `INSERT INTO products (id, store_id, name, barcode, price, stock_quantity, active)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			barcode = EXCLUDED.barcode,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity,
			active = EXCLUDED.active,
			updated_at = now()
		WHERE products.store_id = EXCLUDED.store_id`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, sku, size, color, price_override, stock_quantity)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			sku = EXCLUDED.sku,
			size = EXCLUDED.size,
			color = EXCLUDED.color,
			price_override = EXCLUDED.price_override,
			stock_quantity = EXCLUDED.stock_quantity
		WHERE product_variants.product_id = EXCLUDED.product_id`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, store_id, principal_id, roles, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name,
			store_id = EXCLUDED.store_id,
			principal_id = EXCLUDED.principal_id,
			roles = EXCLUDED.roles,
			active = TRUE`
)

// Seeder writes fixture data. It is used by the seed-db tool only; the
// service itself never writes the catalog.
type Seeder struct {
	pool *pgxpool.Pool
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(pool *pgxpool.Pool) *Seeder {
	return &Seeder{pool: pool}
}

// UpsertProduct writes p and its variants in one transaction. Rows owned by
// another store are left untouched.
func (s *Seeder) UpsertProduct(ctx context.Context, p catalog.Product) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.StoreID, p.Name, p.Barcode, p.Price, p.Stock, p.Active,
		); err != nil {
			return fmt.Errorf("upserting product %s: %w", p.ID, err)
		}

		batch := &pgx.Batch{}
		for _, v := range p.Variants {
			batch.Queue(upsertVariantSQL, v.ID, p.ID, v.SKU, v.Size, v.Color, v.PriceOverride, v.Stock)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting variants of product %s: %w", p.ID, err)
		}
		return nil
	})
}

// UpsertAPIKey stores an API key binding. KeyHash must already be hashed.
func (s *Seeder) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	roles := k.Roles
	if roles == nil {
		roles = []string{}
	}
	if _, err := s.pool.Exec(ctx, upsertAPIKeySQL,
		k.ID, k.KeyHash, k.Name, k.StoreID, k.PrincipalID, roles,
	); err != nil {
		return fmt.Errorf("upserting api key %s: %w", k.ID, err)
	}
	return nil
}
