package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned by Repository when no active key has the hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID          string
	KeyHash     string
	Name        string
	StoreID     string
	PrincipalID string
	Roles       []string
}

// Context returns the caller identity granted by the key.
func (k *APIKeyInfo) Context() Context {
	return Context{
		StoreID:     k.StoreID,
		PrincipalID: k.PrincipalID,
		Roles:       ParseRoles(k.Roles),
	}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
