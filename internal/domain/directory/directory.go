// Package directory describes the employee and customer lookups owned by the
// HR and CRM services.
package directory

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no directory entry matches within the store.
var ErrNotFound = errors.New("directory entry not found")

// EmployeeRef identifies the staff member an order is attributed to.
type EmployeeRef struct {
	ID       string
	StoreID  string
	FullName string
}

// CustomerRef identifies a store customer.
type CustomerRef struct {
	ID       string
	StoreID  string
	FullName string
}

// Resolver maps principals and customer ids to store-scoped directory
// identities.
type Resolver interface {
	// ResolveEmployee returns the employee record linked to the principal.
	ResolveEmployee(ctx context.Context, storeID, principalID string) (*EmployeeRef, error)
	// ResolveCustomer verifies that customerID belongs to the store.
	ResolveCustomer(ctx context.Context, storeID, customerID string) (*CustomerRef, error)
	// ResolveCustomerForPrincipal returns the customer profile linked to the
	// principal.
	ResolveCustomerForPrincipal(ctx context.Context, storeID, principalID string) (*CustomerRef, error)
}
