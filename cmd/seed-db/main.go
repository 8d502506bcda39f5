package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/handler"
	"github.com/xenking/retail-orders/internal/repository"
)

// seedFile is the catalog fixture format. Files ending in .gz are read
// through a parallel gzip reader.
type seedFile struct {
	Stores []storeJSON `json:"stores"`
}

type storeJSON struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Products []productJSON `json:"products"`
	APIKeys  []apiKeyJSON  `json:"apiKeys"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Barcode  string          `json:"barcode"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Inactive bool            `json:"inactive"`
	Variants []variantJSON   `json:"variants"`
}

type variantJSON struct {
	ID            string              `json:"id"`
	SKU           string              `json:"sku"`
	Size          string              `json:"size"`
	Color         string              `json:"color"`
	PriceOverride decimal.NullDecimal `json:"priceOverride"`
	Stock         int                 `json:"stock"`
}

type apiKeyJSON struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Key         string   `json:"key"`
	PrincipalID string   `json:"principalId"`
	Roles       []string `json:"roles"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKeyPepper string
		concurrency  int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file (.json or .json.gz)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or RETAIL_API_KEY_PEPPER env)")
	flag.IntVar(&concurrency, "concurrency", 4, "stores seeded in parallel")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("RETAIL_API_KEY_PEPPER")
	}
	if apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or RETAIL_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, []byte(apiKeyPepper), concurrency); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, pepper []byte, concurrency int) error {
	seed, err := readSeedFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	slog.Info("running migrations")
	if err := repository.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	seeder := repository.NewSeeder(pool)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, s := range seed.Stores {
		g.Go(func() error {
			return seedStore(ctx, seeder, s, pepper)
		})
	}
	return g.Wait()
}

func readSeedFile(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decodeSeed(r)
}

func decodeSeed(r io.Reader) (*seedFile, error) {
	var seed seedFile
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	for _, s := range seed.Stores {
		if s.ID == "" {
			return nil, errors.Errorf("store %q has no id", s.Name)
		}
	}
	return &seed, nil
}

func seedStore(ctx context.Context, seeder *repository.Seeder, s storeJSON, pepper []byte) error {
	for _, p := range s.Products {
		if err := seeder.UpsertProduct(ctx, toProduct(s.ID, p)); err != nil {
			return errors.Wrapf(err, "store %s", s.ID)
		}
	}
	for _, k := range s.APIKeys {
		if err := seeder.UpsertAPIKey(ctx, toAPIKey(s.ID, k, pepper)); err != nil {
			return errors.Wrapf(err, "store %s", s.ID)
		}
	}

	slog.Info("seeded store",
		slog.String("id", s.ID),
		slog.String("name", s.Name),
		slog.Int("products", len(s.Products)),
		slog.Int("api_keys", len(s.APIKeys)),
	)
	return nil
}

func toProduct(storeID string, p productJSON) catalog.Product {
	out := catalog.Product{
		ID:      p.ID,
		StoreID: storeID,
		Name:    p.Name,
		Barcode: p.Barcode,
		Price:   p.Price,
		Stock:   p.Stock,
		Active:  !p.Inactive,
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, catalog.Variant{
			ID:            v.ID,
			ProductID:     p.ID,
			SKU:           v.SKU,
			Size:          v.Size,
			Color:         v.Color,
			PriceOverride: v.PriceOverride,
			Stock:         v.Stock,
		})
	}
	return out
}

func toAPIKey(storeID string, k apiKeyJSON, pepper []byte) auth.APIKeyInfo {
	return auth.APIKeyInfo{
		ID:          k.ID,
		KeyHash:     handler.HashAPIKey(pepper, k.Key),
		Name:        k.Name,
		StoreID:     storeID,
		PrincipalID: k.PrincipalID,
		Roles:       k.Roles,
	}
}
