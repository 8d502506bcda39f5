//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/internal/handler"
	"github.com/xenking/retail-orders/internal/repository"
	"github.com/xenking/retail-orders/pkg/health"
)

const testPepper = "test-pepper-for-integration"

var (
	baseURL    string
	httpClient *http.Client
	published  = &capturePublisher{}
	seeded     seedIDs
)

// Response types are defined locally to keep the tests black-box.

type errorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type createResponse struct {
	ID string `json:"id"`
}

type orderSummary struct {
	ID         string  `json:"id"`
	Code       string  `json:"code"`
	CustomerID *string `json:"customerId"`
	Total      float64 `json:"total"`
	Discount   float64 `json:"discount"`
	Status     string  `json:"status"`
}

type orderDetail struct {
	orderSummary
	Items []struct {
		ProductName string  `json:"productName"`
		SKU         string  `json:"sku"`
		Quantity    int     `json:"quantity"`
		UnitPrice   float64 `json:"unitPrice"`
		Total       float64 `json:"total"`
	} `json:"items"`
}

type orderPage struct {
	Items      []orderSummary `json:"items"`
	TotalCount int            `json:"totalCount"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
}

type productResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Variants []struct {
		ID    string `json:"id"`
		SKU   string `json:"sku"`
		Stock int    `json:"stock"`
	} `json:"variants"`
}

type capturePublisher struct {
	mu     sync.Mutex
	orders []string
}

func (p *capturePublisher) OrderCreated(_ context.Context, o *order.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, o.ID)
	return nil
}

func (p *capturePublisher) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orders {
		if o == id {
			return true
		}
	}
	return false
}

type seedIDs struct {
	store      string
	otherStore string
	mug        string
	poster     string
	tee        string
	teeS       string
	teeL       string
}

const (
	staffKey    = "e2e-staff"
	noRolesKey  = "e2e-noroles"
	otherKey    = "e2e-other-store"
	customerKey = "e2e-customer"
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "retail",
				"POSTGRES_PASSWORD": "retail",
				"POSTGRES_DB":       "retail",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}
	databaseURL := fmt.Sprintf("postgres://retail:retail@%s:%s/retail?sslmode=disable", host, port.Port())

	if err := repository.RunMigrations(databaseURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := seed(ctx, repository.NewSeeder(pool)); err != nil {
		log.Fatalf("seed: %v", err)
	}

	cfg := &Config{
		DatabaseURL:  databaseURL,
		APIKeyPepper: testPepper,
		Directory:    DirectoryConfig{Timeout: time.Second},
		Orders:       OrdersConfig{ConflictRetries: 1, CodeAttempts: 5},
		RateLimit:    RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:         CORSConfig{Origins: []string{"*"}},
	}
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", time.Second, health.PingCheck(pool))
	healthSvc.SetReady(true)

	srv := httptest.NewServer(newRouter(ctx, cfg, routerDeps{
		pool:      pool,
		publisher: published,
		health:    healthSvc,
		logger:    zap.NewNop(),
		tracer:    tracenoop.NewTracerProvider(),
		meter:     metricnoop.NewMeterProvider(),
	}))
	defer srv.Close()

	baseURL = srv.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}

	return m.Run()
}

func seed(ctx context.Context, s *repository.Seeder) error {
	seeded = seedIDs{
		store:      uuid.NewString(),
		otherStore: uuid.NewString(),
		mug:        uuid.NewString(),
		poster:     uuid.NewString(),
		tee:        uuid.NewString(),
		teeS:       uuid.NewString(),
		teeL:       uuid.NewString(),
	}
	products := []catalog.Product{
		{ID: seeded.mug, StoreID: seeded.store, Name: "Mug", Price: decimal.NewFromInt(100), Stock: 10, Active: true},
		{ID: seeded.poster, StoreID: seeded.store, Name: "Poster", Price: decimal.NewFromInt(9), Stock: 5, Active: false},
		{
			ID: seeded.tee, StoreID: seeded.store, Name: "Tee", Price: decimal.NewFromInt(100), Active: true,
			Variants: []catalog.Variant{
				{ID: seeded.teeS, SKU: "TEE-S", Size: "S", Stock: 5},
				{ID: seeded.teeL, SKU: "TEE-L", Size: "L", Stock: 3, PriceOverride: decimal.NewNullDecimal(decimal.NewFromInt(120))},
			},
		},
	}
	for _, p := range products {
		if err := s.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}

	keys := []auth.APIKeyInfo{
		{ID: staffKey, Name: "Till", StoreID: seeded.store, Roles: []string{string(auth.RoleStaff)}},
		{ID: noRolesKey, Name: "Broken", StoreID: seeded.store},
		{ID: otherKey, Name: "Other till", StoreID: seeded.otherStore, Roles: []string{string(auth.RoleManager)}},
		{ID: customerKey, Name: "Shopper", StoreID: seeded.store, Roles: []string{string(auth.RoleCustomer)}},
	}
	for _, k := range keys {
		k.PrincipalID = uuid.NewString()
		k.KeyHash = handler.HashAPIKey([]byte(testPepper), k.ID)
		if err := s.UpsertAPIKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// HTTP helpers.

func do(t *testing.T, method, path, apiKey string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("api_key", apiKey)
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func placeOrder(t *testing.T, apiKey string, body map[string]any) string {
	t.Helper()

	resp := do(t, http.MethodPost, "/api/v1/orders", apiKey, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeJSON[createResponse](t, resp).ID
}

func product(t *testing.T, id string) productResponse {
	t.Helper()

	resp := do(t, http.MethodGet, "/api/v1/products/"+id, staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeJSON[productResponse](t, resp)
}

// Tests.

func TestHealthEndpoints(t *testing.T) {
	resp := do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, baseURL+"/api/v1/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "api_key")
}

func TestAuth(t *testing.T) {
	for _, key := range []string{"", "wrong-key"} {
		resp := do(t, http.MethodGet, "/api/v1/orders", key, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", decodeJSON[errorResponse](t, resp).Kind)
	}

	resp := do(t, http.MethodPost, "/api/v1/orders", noRolesKey, map[string]any{
		"items": []map[string]any{{"productId": seeded.mug, "quantity": 1}},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOrderLifecycle(t *testing.T) {
	before := product(t, seeded.mug).Stock

	id := placeOrder(t, staffKey, map[string]any{
		"paymentMethod": "cash",
		"discount":      "50",
		"items":         []map[string]any{{"productId": seeded.mug, "quantity": 3}},
	})
	assert.True(t, published.has(id))
	assert.Equal(t, before-3, product(t, seeded.mug).Stock)

	resp := do(t, http.MethodGet, "/api/v1/orders/"+id, staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decodeJSON[orderDetail](t, resp)
	assert.Equal(t, 250.0, d.Total)
	assert.Equal(t, 50.0, d.Discount)
	assert.Equal(t, "Completed", d.Status)
	require.Len(t, d.Items, 1)
	assert.Equal(t, "Mug", d.Items[0].ProductName)
	assert.Equal(t, 300.0, d.Items[0].Total)

	resp = do(t, http.MethodPut, "/api/v1/orders/"+id+"/status?status=Refund%20requested", staffKey, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, "/api/v1/orders?status=Refund%20requested", staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeJSON[orderPage](t, resp)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, id, page.Items[0].ID)
}

func TestOrder_VariantPricing(t *testing.T) {
	id := placeOrder(t, staffKey, map[string]any{
		"items": []map[string]any{{"productId": seeded.tee, "variantId": seeded.teeL, "quantity": 1}},
	})

	resp := do(t, http.MethodGet, "/api/v1/orders/"+id, staffKey, nil)
	d := decodeJSON[orderDetail](t, resp)
	assert.Equal(t, 120.0, d.Total)
	require.Len(t, d.Items, 1)
	assert.Equal(t, "TEE-L", d.Items[0].SKU)
}

func TestOrder_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		body   map[string]any
		status int
		kind   string
	}{
		{
			name:   "empty items",
			key:    staffKey,
			body:   map[string]any{"items": []any{}},
			status: http.StatusBadRequest,
			kind:   "EmptyItems",
		},
		{
			name:   "variant required",
			key:    staffKey,
			body:   map[string]any{"items": []map[string]any{{"productId": seeded.tee, "quantity": 1}}},
			status: http.StatusUnprocessableEntity,
			kind:   "VariantRequired",
		},
		{
			name:   "insufficient stock",
			key:    staffKey,
			body:   map[string]any{"items": []map[string]any{{"productId": seeded.tee, "variantId": seeded.teeS, "quantity": 50}}},
			status: http.StatusUnprocessableEntity,
			kind:   "InsufficientStock",
		},
		{
			name:   "inactive product",
			key:    staffKey,
			body:   map[string]any{"items": []map[string]any{{"productId": seeded.poster, "quantity": 1}}},
			status: http.StatusUnprocessableEntity,
			kind:   "ProductNotFound",
		},
		{
			name:   "discount beyond storage",
			key:    staffKey,
			body:   map[string]any{"discount": "10000000000000000", "items": []map[string]any{{"productId": seeded.mug, "quantity": 1}}},
			status: http.StatusUnprocessableEntity,
			kind:   "InvalidDiscount",
		},
		{
			name:   "quantity beyond storage",
			key:    staffKey,
			body:   map[string]any{"items": []map[string]any{{"productId": seeded.mug, "quantity": 2147483648}}},
			status: http.StatusUnprocessableEntity,
			kind:   "InvalidQuantity",
		},
		{
			name:   "other store",
			key:    otherKey,
			body:   map[string]any{"items": []map[string]any{{"productId": seeded.mug, "quantity": 1}}},
			status: http.StatusUnprocessableEntity,
			kind:   "ProductNotFound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/api/v1/orders", tt.key, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decodeJSON[errorResponse](t, resp).Kind)
		})
	}
}

func TestOrder_ConcurrentLastUnits(t *testing.T) {
	before := product(t, seeded.mug).Stock
	require.Positive(t, before)

	const buyers = 20
	codes := make(chan int, buyers)
	var wg sync.WaitGroup
	for range buyers {
		wg.Go(func() {
			data, _ := json.Marshal(map[string]any{
				"items": []map[string]any{{"productId": seeded.mug, "quantity": 1}},
			})
			req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/v1/orders", bytes.NewReader(data))
			req.Header.Set("api_key", staffKey)
			resp, err := httpClient.Do(req)
			if err != nil {
				codes <- 0
				return
			}
			_ = resp.Body.Close()
			codes <- resp.StatusCode
		})
	}
	wg.Wait()
	close(codes)

	created := 0
	for c := range codes {
		switch c {
		case http.StatusCreated:
			created++
		case http.StatusUnprocessableEntity, http.StatusConflict:
		default:
			t.Errorf("unexpected status %d", c)
		}
	}
	assert.Equal(t, min(before, buyers), created)
	assert.Equal(t, before-created, product(t, seeded.mug).Stock)
}

func TestCustomerVisibility(t *testing.T) {
	// No CRM is configured, so the shopper has no resolvable profile.
	resp := do(t, http.MethodGet, "/api/v1/orders", customerKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decodeJSON[orderPage](t, resp)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.TotalCount)

	id := placeOrder(t, staffKey, map[string]any{
		"items": []map[string]any{{"productId": seeded.tee, "variantId": seeded.teeS, "quantity": 1}},
	})
	resp = do(t, http.MethodGet, "/api/v1/orders/"+id, customerKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPut, "/api/v1/orders/"+id+"/status?status=Cancelled", customerKey, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestProducts(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/v1/products", staffKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	products := decodeJSON[[]productResponse](t, resp)

	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"Mug", "Tee"}, names)

	resp = do(t, http.MethodGet, "/api/v1/products/not-a-uuid", staffKey, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, "/api/v1/products", otherKey, nil)
	assert.Empty(t, decodeJSON[[]productResponse](t, resp))
}
