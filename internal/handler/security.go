package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/retail-orders/internal/domain/auth"
	"github.com/xenking/retail-orders/pkg/httpmiddleware"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form API
// keys are stored in.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and turns the key's binding into the caller's auth.Context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves key to the identity it is bound to.
func (s *SecurityHandler) Authenticate(ctx context.Context, key string) (auth.Context, error) {
	if key == "" {
		return auth.Context{}, errUnauthorized
	}
	hash := HashAPIKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return auth.Context{}, errUnauthorized
		}
		return auth.Context{}, errors.Wrap(err, "find api key")
	}

	// The lookup matched on hash already; compare again in constant time in
	// case the repository returned a different row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Context{}, errUnauthorized
	}
	computed, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Context{}, errUnauthorized
	}

	ac := info.Context()
	if err := ac.Validate(); err != nil {
		return auth.Context{}, errors.Wrapf(errUnauthorized, "key %s: %v", info.ID, err)
	}
	return ac, nil
}

// Middleware rejects requests without a valid api_key header with 401 and
// stores the caller identity in the request context otherwise. Failures of
// the key store are answered with 500.
func (s *SecurityHandler) Middleware() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := s.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				if !errors.Is(err, errUnauthorized) {
					fail(w, r, err)
					return
				}
				zctx.From(r.Context()).Debug("Authentication failed", zap.Error(err))
				writeKind(w, kindUnauthorized, "unauthorized")
				return
			}
			ctx := auth.WithContext(r.Context(), ac)
			ctx = zctx.With(ctx,
				zap.String("store_id", ac.StoreID),
				zap.String("principal_id", ac.PrincipalID),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalKey keys rate limiting by authenticated caller, falling back to
// the client address for anonymous requests.
func PrincipalKey(r *http.Request) string {
	if ac, ok := auth.FromContext(r.Context()); ok {
		return ac.StoreID + "/" + ac.PrincipalID
	}
	return httpmiddleware.ClientIP(r)
}
