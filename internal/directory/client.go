// Package directory resolves employees and customers through the HR and CRM
// services' internal HTTP APIs.
package directory

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/retail-orders/internal/domain/directory"
)

const maxBodySize = 64 << 10

// ErrNotConfigured is returned when the service owning a lookup has no base
// URL configured.
var ErrNotConfigured = errors.New("directory service not configured")

var _ directory.Resolver = (*Client)(nil)

// Client implements directory.Resolver over HTTP.
type Client struct {
	hrBaseURL  string
	crmBaseURL string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a Client for the given HR and CRM base URLs.
func NewClient(hrBaseURL, crmBaseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		hrBaseURL:  strings.TrimRight(hrBaseURL, "/"),
		crmBaseURL: strings.TrimRight(crmBaseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveEmployee returns the employee linked to the principal in the store.
func (c *Client) ResolveEmployee(ctx context.Context, storeID, principalID string) (*directory.EmployeeRef, error) {
	e, err := c.get(ctx, c.hrBaseURL, "/internal/stores/"+url.PathEscape(storeID)+"/employees/by-user/"+url.PathEscape(principalID), storeID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve employee")
	}
	return &directory.EmployeeRef{ID: e.ID, StoreID: storeID, FullName: e.FullName}, nil
}

// ResolveCustomer verifies that the customer belongs to the store.
func (c *Client) ResolveCustomer(ctx context.Context, storeID, customerID string) (*directory.CustomerRef, error) {
	e, err := c.get(ctx, c.crmBaseURL, "/internal/stores/"+url.PathEscape(storeID)+"/customers/"+url.PathEscape(customerID), storeID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve customer")
	}
	return &directory.CustomerRef{ID: e.ID, StoreID: storeID, FullName: e.FullName}, nil
}

// ResolveCustomerForPrincipal returns the customer profile of the principal.
func (c *Client) ResolveCustomerForPrincipal(ctx context.Context, storeID, principalID string) (*directory.CustomerRef, error) {
	e, err := c.get(ctx, c.crmBaseURL, "/internal/stores/"+url.PathEscape(storeID)+"/customers/by-user/"+url.PathEscape(principalID), storeID)
	if err != nil {
		return nil, errors.Wrap(err, "resolve customer by user")
	}
	return &directory.CustomerRef{ID: e.ID, StoreID: storeID, FullName: e.FullName}, nil
}

type entry struct {
	ID       string
	StoreID  string
	FullName string
}

func (c *Client) get(ctx context.Context, baseURL, path, storeID string) (*entry, error) {
	if baseURL == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, directory.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	e, err := decodeEntry(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode body")
	}

	// An entry of another store is as good as none.
	if e.ID == "" || (e.StoreID != "" && !strings.EqualFold(e.StoreID, storeID)) {
		return nil, directory.ErrNotFound
	}
	return e, nil
}

// decodeEntry reads {"id","storeId","fullName"}, optionally wrapped in a
// {"data": ...} envelope.
func decodeEntry(d *jx.Decoder) (*entry, error) {
	e := &entry{}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			e.ID, err = optString(d)
		case "storeId":
			e.StoreID, err = optString(d)
		case "fullName":
			e.FullName, err = optString(d)
		case "data":
			if d.Next() == jx.Null {
				return d.Null()
			}
			inner, err := decodeEntry(d)
			if err != nil {
				return err
			}
			*e = *inner
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
