// Package handler implements the /api/v1 HTTP surface of the order service on
// top of the order and catalog domain packages.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/domain/order"
)

// OrderEngine places orders. Implemented by *order.Service.
type OrderEngine interface {
	CreateOrder(ctx context.Context, ac auth.Context, req order.CreateRequest) (string, error)
}

// OrderQueries reads and updates placed orders. Implemented by *order.QueryService.
type OrderQueries interface {
	ListOrders(ctx context.Context, ac auth.Context, f order.Filter, page, pageSize int) (*order.Page, error)
	GetOrder(ctx context.Context, ac auth.Context, id string) (*order.Detail, error)
	UpdateStatus(ctx context.Context, ac auth.Context, id, status string) error
}

var (
	_ OrderEngine  = (*order.Service)(nil)
	_ OrderQueries = (*order.QueryService)(nil)
)

// Handler serves orders and the store catalog. Every route expects the
// caller identity installed by SecurityHandler.Middleware.
type Handler struct {
	products catalog.Repository
	engine   OrderEngine
	queries  OrderQueries
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(products catalog.Repository, engine OrderEngine, queries OrderQueries) *Handler {
	return &Handler{
		products: products,
		engine:   engine,
		queries:  queries,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RegisterRoutes mounts the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateOrderStatus)

	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

// caller returns the identity installed by the security middleware. Routes
// are never mounted without it, so a missing identity is a wiring bug and is
// answered as unauthorized.
func caller(w http.ResponseWriter, r *http.Request) (auth.Context, bool) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeKind(w, kindUnauthorized, "unauthorized")
		return auth.Context{}, false
	}
	return ac, true
}
