package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-orders/internal/handler"
)

const sampleSeed = `{
  "stores": [{
    "id": "11111111-1111-1111-1111-111111111111",
    "name": "Downtown",
    "products": [
      {"id": "p-1", "name": "Mug", "price": "12.50", "stock": 10},
      {"id": "p-2", "name": "Tee", "price": 100, "inactive": true, "variants": [
        {"id": "v-1", "sku": "TEE-S", "size": "S", "stock": 2},
        {"id": "v-2", "sku": "TEE-L", "size": "L", "priceOverride": "120", "stock": 4}
      ]}
    ],
    "apiKeys": [{"id": "till-1", "name": "Till", "key": "secret", "principalId": "p", "roles": ["Staff"]}]
  }]
}`

func TestDecodeSeed(t *testing.T) {
	seed, err := decodeSeed(strings.NewReader(sampleSeed))
	require.NoError(t, err)
	require.Len(t, seed.Stores, 1)

	s := seed.Stores[0]
	mug := toProduct(s.ID, s.Products[0])
	assert.True(t, mug.Active)
	assert.True(t, decimal.RequireFromString("12.5").Equal(mug.Price))
	assert.Empty(t, mug.Variants)

	tee := toProduct(s.ID, s.Products[1])
	assert.False(t, tee.Active)
	require.Len(t, tee.Variants, 2)
	assert.False(t, tee.Variants[0].PriceOverride.Valid)
	assert.True(t, tee.Variants[1].PriceOverride.Valid)
	assert.Equal(t, "p-2", tee.Variants[1].ProductID)

	key := toAPIKey(s.ID, s.APIKeys[0], []byte("pepper"))
	assert.Equal(t, handler.HashAPIKey([]byte("pepper"), "secret"), key.KeyHash)
	assert.Equal(t, s.ID, key.StoreID)
}

func TestDecodeSeed_MissingStoreID(t *testing.T) {
	_, err := decodeSeed(strings.NewReader(`{"stores": [{"name": "Nowhere"}]}`))
	assert.ErrorContains(t, err, "has no id")
}

func TestReadSeedFile_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := pgzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleSeed))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	seed, err := readSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seed.Stores, 1)
	assert.Len(t, seed.Stores[0].Products, 2)
}
