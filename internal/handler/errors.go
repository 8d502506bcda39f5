package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/domain/order"
	"github.com/xenking/retail-orders/pkg/httpmiddleware"
)

// Kinds produced by the transport itself rather than the order domain.
const (
	kindBadRequest   order.Kind = "BadRequest"
	kindUnauthorized order.Kind = "Unauthorized"
)

var kindStatus = map[order.Kind]int{
	order.KindEmptyItems:          http.StatusBadRequest,
	order.KindInvalidStatus:       http.StatusBadRequest,
	kindBadRequest:                http.StatusBadRequest,
	order.KindInvalidQuantity:     http.StatusUnprocessableEntity,
	order.KindInvalidDiscount:     http.StatusUnprocessableEntity,
	order.KindAmountOutOfRange:    http.StatusUnprocessableEntity,
	order.KindProductNotFound:     http.StatusUnprocessableEntity,
	order.KindVariantNotFound:     http.StatusUnprocessableEntity,
	order.KindVariantRequired:     http.StatusUnprocessableEntity,
	order.KindInsufficientStock:   http.StatusUnprocessableEntity,
	order.KindCustomerNotFound:    http.StatusUnprocessableEntity,
	order.KindNotFound:            http.StatusNotFound,
	order.KindForbidden:           http.StatusForbidden,
	order.KindTransactionConflict: http.StatusConflict,
	kindUnauthorized:              http.StatusUnauthorized,
}

// statusOf returns the HTTP status for kind; unknown kinds are 500.
func statusOf(kind order.Kind) int {
	if s, ok := kindStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeKind(w http.ResponseWriter, kind order.Kind, message string) {
	httpmiddleware.WriteError(w, statusOf(kind), string(kind), message)
}

func badRequest(w http.ResponseWriter, message string) {
	writeKind(w, kindBadRequest, message)
}

// fail writes err as an error envelope. Internal errors are logged and their
// message is not exposed.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := order.KindOf(err)
	if kind == order.KindInternal && errors.Is(err, catalog.ErrNotFound) {
		kind = order.KindNotFound
	}
	if kind == order.KindInternal {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeKind(w, kind, "internal server error")
		return
	}
	writeKind(w, kind, err.Error())
}
