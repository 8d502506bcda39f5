package order

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/directory"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxStatusLen    = 50
)

// QueryService serves order history with role-scoped visibility: staff see
// every order of their store, self-service customers only their own.
type QueryService struct {
	orders    Repository
	directory directory.Resolver
}

// NewQueryService creates a QueryService.
func NewQueryService(orders Repository, dir directory.Resolver) *QueryService {
	return &QueryService{orders: orders, directory: dir}
}

// ListOrders returns one page of the caller-visible orders, newest first.
// A customer-only caller without a customer profile gets an empty page.
func (q *QueryService) ListOrders(ctx context.Context, ac auth.Context, f Filter, page, pageSize int) (*Page, error) {
	if err := authorizeRead(ac); err != nil {
		return nil, err
	}
	page, pageSize = normalizePage(page, pageSize)

	result := &Page{
		Items:      []Summary{},
		PageNumber: page,
		PageSize:   pageSize,
	}

	f.CustomerID = nil
	if ac.IsCustomerOnly() {
		c := q.callerCustomer(ctx, ac)
		if c == nil {
			return result, nil
		}
		f.CustomerID = &c.ID
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := q.orders.Count(gctx, ac.StoreID, f)
		if err != nil {
			return errors.Wrap(err, "count orders")
		}
		result.TotalCount = n
		return nil
	})
	g.Go(func() error {
		items, err := q.orders.List(gctx, ac.StoreID, f, (page-1)*pageSize, pageSize)
		if err != nil {
			return errors.Wrap(err, "list orders")
		}
		result.Items = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetOrder returns the order with its items, or ErrNotFound when it does not
// exist or is not visible to the caller.
func (q *QueryService) GetOrder(ctx context.Context, ac auth.Context, id string) (*Detail, error) {
	if err := authorizeRead(ac); err != nil {
		return nil, err
	}

	var customerID *string
	if ac.IsCustomerOnly() {
		c := q.callerCustomer(ctx, ac)
		if c == nil {
			return nil, ErrNotFound
		}
		customerID = &c.ID
	}

	d, err := q.orders.Get(ctx, ac.StoreID, id, customerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return d, nil
}

// UpdateStatus overwrites the status of an order in the caller's store.
// Statuses are free text; no transition table is enforced.
func (q *QueryService) UpdateStatus(ctx context.Context, ac auth.Context, id, status string) error {
	if err := ac.Validate(); err != nil {
		return ErrForbidden
	}
	if !ac.IsStaff() {
		return ErrForbidden
	}

	status = strings.TrimSpace(status)
	if status == "" || utf8.RuneCountInString(status) > maxStatusLen {
		return ErrInvalidStatus
	}

	if err := q.orders.UpdateStatus(ctx, ac.StoreID, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", id),
		zap.String("status", status),
		zap.String("principal_id", ac.PrincipalID),
	)
	return nil
}

// callerCustomer resolves the customer profile of a self-service caller.
// Any failure yields no identity, which callers treat as "sees nothing".
func (q *QueryService) callerCustomer(ctx context.Context, ac auth.Context) *directory.CustomerRef {
	c, err := q.directory.ResolveCustomerForPrincipal(ctx, ac.StoreID, ac.PrincipalID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			zctx.From(ctx).Warn("Customer lookup failed, hiding orders", zap.Error(err))
		}
		return nil
	}
	return c
}

func authorizeRead(ac auth.Context) error {
	if err := ac.Validate(); err != nil {
		return ErrForbidden
	}
	if !ac.IsStaff() && !ac.Has(auth.RoleCustomer) {
		return ErrForbidden
	}
	return nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}
