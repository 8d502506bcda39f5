package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/retail-orders/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// createOrder handles POST /orders.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "read body: "+err.Error())
		return
	}
	var req createOrderRequest
	if err := req.Decode(jx.DecodeBytes(body)); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(w, validationMessage(err))
		return
	}

	id, err := h.engine.CreateOrder(r.Context(), ac, req.toDomain())
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(id) })
		})
	})
}

// listOrders handles GET /orders.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}

	f, page, pageSize, err := parseListQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	p, err := h.queries.ListOrders(r.Context(), ac, f, page, pageSize)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePage(e, p) })
}

// getOrder handles GET /orders/{id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}

	d, err := h.queries.GetOrder(r.Context(), ac, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetail(e, d) })
}

// updateOrderStatus handles PUT /orders/{id}/status?status=.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ac, ok := caller(w, r)
	if !ok {
		return
	}

	err := h.queries.UpdateStatus(r.Context(), ac, chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseListQuery reads status, from, to, page and pageSize. Dates are RFC 3339
// timestamps or calendar dates; a calendar date in "to" covers the whole day.
func parseListQuery(r *http.Request) (f order.Filter, page, pageSize int, err error) {
	q := r.URL.Query()
	f.Status = strings.TrimSpace(q.Get("status"))

	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, 0, 0, errors.Wrap(err, "from")
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, 0, 0, errors.Wrap(err, "to")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, 0, 0, errors.New("to is before from")
	}

	if page, err = parseInt(q.Get("page")); err != nil {
		return f, 0, 0, errors.Wrap(err, "page")
	}
	if pageSize, err = parseInt(q.Get("pageSize")); err != nil {
		return f, 0, 0, errors.Wrap(err, "pageSize")
	}
	return f, page, pageSize, nil
}

func parseTime(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, errors.Errorf("invalid date %q", s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &t, nil
}

// parseInt treats an empty value as zero, which the query service replaces
// with its default.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("invalid number %q", s)
	}
	return n, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return "field " + fe.Namespace() + " failed " + fe.Tag() + " validation"
}
