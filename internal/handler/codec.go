package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-orders/internal/domain/catalog"
	"github.com/xenking/retail-orders/internal/domain/order"
)

// createOrderRequest is the body of POST /orders.
type createOrderRequest struct {
	CustomerID    *string `validate:"omitempty,max=64"`
	PaymentMethod string  `validate:"max=50"`
	Discount      decimal.Decimal
	Items         []createOrderItem `validate:"dive"`
}

type createOrderItem struct {
	ProductID string  `validate:"required,max=64"`
	VariantID *string `validate:"omitempty,max=64"`
	Quantity  int
}

func (req *createOrderRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "customerId":
			v, err := optString(d)
			if err != nil {
				return errors.Wrap(err, "customerId")
			}
			req.CustomerID = v
		case "paymentMethod":
			v, err := optString(d)
			if err != nil {
				return errors.Wrap(err, "paymentMethod")
			}
			if v != nil {
				req.PaymentMethod = *v
			}
		case "discount":
			v, err := decodeMoney(d)
			if err != nil {
				return errors.Wrap(err, "discount")
			}
			req.Discount = v
		case "items":
			if err := d.Arr(func(d *jx.Decoder) error {
				var item createOrderItem
				if err := item.Decode(d); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			}); err != nil {
				return errors.Wrap(err, "items")
			}
		default:
			return d.Skip()
		}
		return nil
	})
}

func (item *createOrderItem) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "productId":
			s, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "productId")
			}
			item.ProductID = s
		case "variantId":
			v, err := optString(d)
			if err != nil {
				return errors.Wrap(err, "variantId")
			}
			item.VariantID = v
		case "quantity":
			n, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "quantity")
			}
			item.Quantity = n
		default:
			return d.Skip()
		}
		return nil
	})
}

func (req *createOrderRequest) toDomain() order.CreateRequest {
	lines := make([]order.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, order.Line{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return order.CreateRequest{
		CustomerID:    req.CustomerID,
		PaymentMethod: req.PaymentMethod,
		Discount:      req.Discount,
		Lines:         lines,
	}
}

// optString decodes a string that may be null or empty; both yield nil.
func optString(d *jx.Decoder) (*string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil || s == "" {
		return nil, err
	}
	return &s, nil
}

// decodeMoney accepts a JSON number, a numeric string or null.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func optStr(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func encodeSummaryFields(e *jx.Encoder, s *order.Summary) {
	e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
	e.Field("code", func(e *jx.Encoder) { e.Str(s.Code) })
	e.Field("employeeId", func(e *jx.Encoder) { optStr(e, s.EmployeeID) })
	e.Field("customerId", func(e *jx.Encoder) { optStr(e, s.CustomerID) })
	e.Field("total", func(e *jx.Encoder) { money(e, s.Total) })
	e.Field("discount", func(e *jx.Encoder) { money(e, s.Discount) })
	e.Field("status", func(e *jx.Encoder) { e.Str(s.Status) })
	e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(s.PaymentMethod) })
	e.Field("paymentStatus", func(e *jx.Encoder) { e.Str(s.PaymentStatus) })
	e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, s.CreatedAt) })
}

func encodePage(e *jx.Encoder, p *order.Page) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range p.Items {
					e.Obj(func(e *jx.Encoder) { encodeSummaryFields(e, &p.Items[i]) })
				}
			})
		})
		e.Field("totalCount", func(e *jx.Encoder) { e.Int(p.TotalCount) })
		e.Field("page", func(e *jx.Encoder) { e.Int(p.PageNumber) })
		e.Field("pageSize", func(e *jx.Encoder) { e.Int(p.PageSize) })
	})
}

func encodeDetail(e *jx.Encoder, d *order.Detail) {
	e.Obj(func(e *jx.Encoder) {
		encodeSummaryFields(e, &d.Summary)
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range d.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(it.ID) })
						e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("productName", func(e *jx.Encoder) { e.Str(it.ProductName) })
						e.Field("barcode", func(e *jx.Encoder) { e.Str(it.Barcode) })
						e.Field("variantId", func(e *jx.Encoder) { optStr(e, it.VariantID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(it.SKU) })
						e.Field("size", func(e *jx.Encoder) { e.Str(it.Size) })
						e.Field("color", func(e *jx.Encoder) { e.Str(it.Color) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, it.UnitPrice) })
						e.Field("total", func(e *jx.Encoder) { money(e, it.Total) })
					})
				}
			})
		})
	})
}

func encodeProduct(e *jx.Encoder, p *catalog.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("barcode", func(e *jx.Encoder) { e.Str(p.Barcode) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(p.Active) })
		e.Field("variants", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, v := range p.Variants {
					e.Obj(func(e *jx.Encoder) {
						e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
						e.Field("sku", func(e *jx.Encoder) { e.Str(v.SKU) })
						e.Field("size", func(e *jx.Encoder) { e.Str(v.Size) })
						e.Field("color", func(e *jx.Encoder) { e.Str(v.Color) })
						e.Field("priceOverride", func(e *jx.Encoder) {
							if !v.PriceOverride.Valid {
								e.Null()
								return
							}
							money(e, v.PriceOverride.Decimal)
						})
						e.Field("stock", func(e *jx.Encoder) { e.Int(v.Stock) })
					})
				}
			})
		})
	})
}
