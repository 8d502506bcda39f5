// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/retail-orders/internal/domain/order"
)

// OrderCreatedType is the value of the "type" header of order-created events.
const OrderCreatedType = "order.created"

// MessageWriter writes single messages to a topic.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a trace-propagating writer for topic. Messages are
// partitioned by key so events of one order stay ordered.
func NewKafkaWriter(brokers []string, topic string, tp trace.TracerProvider) (MessageWriter, error) {
	base := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	w, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(topic),
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "instrument kafka writer")
	}
	return w, nil
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher implements order.Publisher on top of a MessageWriter.
type Publisher struct {
	w MessageWriter
}

// NewPublisher creates a Publisher writing through w.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

// OrderCreated publishes the committed order keyed by its id.
func (p *Publisher) OrderCreated(ctx context.Context, o *order.Order) error {
	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: EncodeOrderCreated(o),
		Time:  o.CreatedAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(OrderCreatedType)},
			{Key: "store_id", Value: []byte(o.StoreID)},
		},
	}
	if err := p.w.WriteMessage(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish order %s", o.ID)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// EncodeOrderCreated renders the event payload. Money is written as exact
// decimal numbers with two places.
func EncodeOrderCreated(o *order.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(o.StoreID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(o.Code) })
		e.Field("customerId", func(e *jx.Encoder) { optStr(e, o.CustomerID) })
		e.Field("employeeId", func(e *jx.Encoder) { optStr(e, o.EmployeeID) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("discount", func(e *jx.Encoder) { money(e, o.Discount) })
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("variantId", func(e *jx.Encoder) { optStr(e, it.VariantID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})

	return append([]byte(nil), e.Bytes()...)
}

func optStr(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}
