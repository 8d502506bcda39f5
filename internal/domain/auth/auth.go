// Package auth describes the authenticated caller that every order operation
// is scoped to.
package auth

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
)

// Role is a capability carried by the caller's credentials.
type Role string

const (
	RoleStoreOwner Role = "StoreOwner"
	RoleManager    Role = "Manager"
	RoleStaff      Role = "Staff"
	RoleCustomer   Role = "Customer"
)

var staffRoles = []Role{RoleStoreOwner, RoleManager, RoleStaff}

var (
	// ErrNoStore is returned when the caller carries no store (tenant) context.
	ErrNoStore = errors.New("caller has no store context")
	// ErrNoPrincipal is returned when the caller carries no principal id.
	ErrNoPrincipal = errors.New("caller has no principal")
)

// Context is the explicit identity of the caller. It is built by the
// transport layer and passed into every core call.
type Context struct {
	StoreID     string
	PrincipalID string
	Roles       []Role
}

// Validate reports whether the context carries the fields every operation
// needs.
func (c Context) Validate() error {
	if c.StoreID == "" {
		return ErrNoStore
	}
	if c.PrincipalID == "" {
		return ErrNoPrincipal
	}
	return nil
}

// Has reports whether the caller holds role r.
func (c Context) Has(r Role) bool {
	return slices.Contains(c.Roles, r)
}

// IsStaff reports whether the caller holds any store staff capability.
func (c Context) IsStaff() bool {
	return slices.ContainsFunc(staffRoles, c.Has)
}

// IsCustomerOnly reports whether the caller is a self-service buyer with no
// staff capability. Such callers only see their own orders.
func (c Context) IsCustomerOnly() bool {
	return c.Has(RoleCustomer) && !c.IsStaff()
}

// ParseRoles converts raw role strings, dropping unknown values.
func ParseRoles(raw []string) []Role {
	roles := make([]Role, 0, len(raw))
	for _, s := range raw {
		switch r := Role(s); r {
		case RoleStoreOwner, RoleManager, RoleStaff, RoleCustomer:
			roles = append(roles, r)
		}
	}
	return roles
}

type contextKey struct{}

// WithContext stores the caller identity in ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the caller identity stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}
