package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/internal/domain/directory"
)

const (
	instrumentationName = "github.com/xenking/retail-orders/internal/domain/order"

	defaultPublishTimeout = 2 * time.Second
)

// Service is the order transaction engine: it resolves the caller, validates
// the cart against a locked catalog snapshot, deducts stock and persists the
// order in one unit of work.
type Service struct {
	store     Store
	directory directory.Resolver
	builder   *Builder
	events    Publisher

	conflictRetries int
	codeAttempts    int
	publishTimeout  time.Duration

	tracer    trace.Tracer
	created   metric.Int64Counter
	conflicts metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the sink for order-created events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithPublishTimeout bounds how long a committed order waits for its event to
// be published. Non-positive values keep the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

// WithBuilder replaces the default aggregate builder.
func WithBuilder(b *Builder) Option {
	return func(s *Service) { s.builder = b }
}

// WithConflictRetries sets how many times a conflicted unit of work is re-run
// with fresh data before the conflict is returned.
func WithConflictRetries(n int) Option {
	return func(s *Service) { s.conflictRetries = max(n, 0) }
}

// WithCodeAttempts sets how many order codes are tried before giving up on a
// code collision.
func WithCodeAttempts(n int) Option {
	return func(s *Service) { s.codeAttempts = max(n, 1) }
}

// WithTelemetry instruments the service with the given providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(instrumentationName)
		meter := mp.Meter(instrumentationName)
		if c, err := meter.Int64Counter("orders.created",
			metric.WithDescription("Orders committed")); err == nil {
			s.created = c
		}
		if c, err := meter.Int64Counter("orders.conflicts",
			metric.WithDescription("Order units of work aborted by a stock conflict")); err == nil {
			s.conflicts = c
		}
	}
}

// NewService creates the engine over the given store and directory.
func NewService(store Store, dir directory.Resolver, opts ...Option) *Service {
	s := &Service{
		store:           store,
		directory:       dir,
		builder:         NewBuilder(NewCodeGenerator()),
		events:          NopPublisher{},
		conflictRetries: 1,
		codeAttempts:    5,
		publishTimeout:  defaultPublishTimeout,
		tracer:          tracenoop.NewTracerProvider().Tracer(instrumentationName),
		created:         metricnoop.Int64Counter{},
		conflicts:       metricnoop.Int64Counter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOrder places an order for the caller's store and returns its id.
// Validation failures abort before anything is written.
func (s *Service) CreateOrder(ctx context.Context, ac auth.Context, req CreateRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "order.Create", trace.WithAttributes(
		attribute.String("store.id", ac.StoreID),
		attribute.Int("order.lines", len(req.Lines)),
	))
	defer span.End()

	o, err := s.createOrder(ctx, ac, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return "", err
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.code", o.Code))
	return o.ID, nil
}

func (s *Service) createOrder(ctx context.Context, ac auth.Context, req CreateRequest) (*Order, error) {
	lg := zctx.From(ctx)

	if err := ac.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if !ac.IsStaff() && !ac.Has(auth.RoleCustomer) {
		return nil, ErrForbidden
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	employee := s.resolveEmployee(ctx, ac)
	customer, err := s.resolveCustomer(ctx, ac, req.CustomerID)
	if err != nil {
		return nil, err
	}

	ids := distinctProductIDs(req.Lines)
	var o *Order
	for attempt := 0; ; attempt++ {
		o, err = s.placeOnce(ctx, ac.StoreID, employee, customer, req, ids)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrTransactionConflict) {
			return nil, err
		}
		s.conflicts.Add(ctx, 1)
		if attempt >= s.conflictRetries {
			return nil, err
		}
		lg.Warn("Order transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("store.id", ac.StoreID)))
	lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("code", o.Code),
		zap.String("store_id", o.StoreID),
		zap.Stringer("total", o.Total),
		zap.Int("items", len(o.Items)),
	)

	s.publish(ctx, o)
	return o, nil
}

// publish emits the order-created event. The order is already committed, so
// failures are logged and the publish is detached from request cancellation
// but bounded by publishTimeout.
func (s *Service) publish(ctx context.Context, o *Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.events.OrderCreated(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publish order created event", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// placeOnce runs one attempt of the unit of work.
func (s *Service) placeOnce(
	ctx context.Context,
	storeID string,
	employee *directory.EmployeeRef,
	customer *directory.CustomerRef,
	req CreateRequest,
	productIDs []string,
) (*Order, error) {
	var placed *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		snapshot, err := tx.LoadProducts(ctx, storeID, productIDs)
		if err != nil {
			return errors.Wrap(err, "load products")
		}

		lines, err := PriceLines(req.Lines, snapshot)
		if err != nil {
			return err
		}

		for _, l := range lines {
			if err := tx.DecrementStock(ctx, storeID, l.Bucket, l.Line.Quantity); err != nil {
				return errors.Wrapf(err, "decrement stock of %s", l.Bucket)
			}
		}

		o := s.builder.Build(storeID, employee, customer, req, lines)
		if err := s.insert(ctx, tx, o); err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// insert persists o, drawing a new code whenever the current one is taken.
func (s *Service) insert(ctx context.Context, tx Tx, o *Order) error {
	for attempt := 1; ; attempt++ {
		err := tx.Insert(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateCode) || attempt >= s.codeAttempts {
			return errors.Wrap(err, "insert order")
		}
		o.Code = s.builder.NewCode()
	}
}

// resolveEmployee attributes the order to staff when possible. A missing or
// unreachable directory never fails the order.
func (s *Service) resolveEmployee(ctx context.Context, ac auth.Context) *directory.EmployeeRef {
	if !ac.IsStaff() {
		return nil
	}
	e, err := s.directory.ResolveEmployee(ctx, ac.StoreID, ac.PrincipalID)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			zctx.From(ctx).Warn("Employee lookup failed, placing order without employee",
				zap.String("principal_id", ac.PrincipalID),
				zap.Error(err),
			)
		}
		return nil
	}
	return e
}

// resolveCustomer verifies an explicit customer reference. Self-service
// callers may only order for their own customer profile, which is attached
// when they do not name one.
func (s *Service) resolveCustomer(ctx context.Context, ac auth.Context, customerID *string) (*directory.CustomerRef, error) {
	explicit := customerID != nil && *customerID != ""

	if ac.IsCustomerOnly() {
		own, err := s.directory.ResolveCustomerForPrincipal(ctx, ac.StoreID, ac.PrincipalID)
		if !explicit {
			if err != nil {
				if !errors.Is(err, directory.ErrNotFound) {
					zctx.From(ctx).Warn("Customer lookup failed, placing order without customer", zap.Error(err))
				}
				return nil, nil
			}
			return own, nil
		}
		switch {
		case errors.Is(err, directory.ErrNotFound):
			return nil, ErrForbidden
		case err != nil:
			return nil, errors.Wrap(err, "resolve caller customer")
		case own.ID != *customerID:
			return nil, ErrForbidden
		}
		return own, nil
	}

	if !explicit {
		return nil, nil
	}
	c, err := s.directory.ResolveCustomer(ctx, ac.StoreID, *customerID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, errors.Wrap(err, "resolve customer")
	}
	return c, nil
}

func validateRequest(req CreateRequest) error {
	if len(req.Lines) == 0 {
		return ErrEmptyItems
	}
	for _, l := range req.Lines {
		if l.Quantity < 1 || l.Quantity > MaxQuantity {
			return &InvalidQuantityError{ProductID: l.ProductID, Quantity: l.Quantity}
		}
	}
	if req.Discount.IsNegative() || req.Discount.Round(2).GreaterThanOrEqual(MaxAmount) {
		return ErrInvalidDiscount
	}
	return nil
}

func distinctProductIDs(lines []Line) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}
