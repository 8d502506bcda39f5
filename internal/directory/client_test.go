package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-orders/internal/domain/directory"
)

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /internal/stores/s1/employees/by-user/u1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"emp-1","storeId":"s1","fullName":"Sam Staff","position":"Cashier"}`))
	})
	mux.HandleFunc("GET /internal/stores/s1/customers/c1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"message":null,"data":{"id":"c1","storeId":"s1","fullName":null}}`))
	})
	mux.HandleFunc("GET /internal/stores/s1/customers/c2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c2","storeId":"s2","fullName":"Other Store"}`))
	})
	mux.HandleFunc("GET /internal/stores/s1/customers/by-user/u2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c1","fullName":"Alice"}`))
	})
	mux.HandleFunc("GET /internal/stores/s1/customers/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ResolveEmployee(t *testing.T) {
	srv := newDirectoryServer(t)
	c := NewClient(srv.URL+"/", srv.URL, time.Second)

	e, err := c.ResolveEmployee(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.Equal(t, &directory.EmployeeRef{ID: "emp-1", StoreID: "s1", FullName: "Sam Staff"}, e)

	_, err = c.ResolveEmployee(context.Background(), "s1", "nobody")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestClient_ResolveCustomer(t *testing.T) {
	srv := newDirectoryServer(t)
	c := NewClient(srv.URL, srv.URL, time.Second)
	ctx := context.Background()

	cust, err := c.ResolveCustomer(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", cust.ID)
	assert.Empty(t, cust.FullName)

	_, err = c.ResolveCustomer(ctx, "s1", "c2")
	require.ErrorIs(t, err, directory.ErrNotFound, "customer of another store")

	_, err = c.ResolveCustomer(ctx, "s1", "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, directory.ErrNotFound)

	cust, err = c.ResolveCustomerForPrincipal(ctx, "s1", "u2")
	require.NoError(t, err)
	assert.Equal(t, &directory.CustomerRef{ID: "c1", StoreID: "s1", FullName: "Alice"}, cust)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", "", time.Second)

	_, err := c.ResolveEmployee(context.Background(), "s1", "u1")
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.NotErrorIs(t, err, directory.ErrNotFound)
}

func TestClient_Unreachable(t *testing.T) {
	srv := newDirectoryServer(t)
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, url, time.Second).ResolveCustomer(context.Background(), "s1", "c1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, directory.ErrNotFound)
}
