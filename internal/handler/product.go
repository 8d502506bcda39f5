package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/retail-orders/internal/domain/order"
)

// listProducts handles GET /products.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}
	if err := ac.Validate(); err != nil {
		writeKind(w, order.KindForbidden, err.Error())
		return
	}

	products, err := h.products.List(r.Context(), ac.StoreID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range products {
				encodeProduct(e, &products[i])
			}
		})
	})
}

// getProduct handles GET /products/{id}.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}
	if err := ac.Validate(); err != nil {
		writeKind(w, order.KindForbidden, err.Error())
		return
	}

	p, err := h.products.GetByID(r.Context(), ac.StoreID, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, p) })
}
