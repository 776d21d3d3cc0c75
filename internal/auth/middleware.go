package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/renderloop/backend/internal/models"
	"github.com/renderloop/backend/internal/repository"
)

type contextKey string

const ctxAccountKey contextKey = "account"

// AccessKeyFinder is the access-key repository interface for the middleware.
type AccessKeyFinder interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.AccessKeyWithAccount, error)
}

// Middleware authenticates requests via a Bearer session token or, for
// programmatic clients, an X-API-Key header (SHA-256 hashed before lookup).
// On success the account is placed in the request context.
func Middleware(svc *Service, keys AccessKeyFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				result, err := keys.FindByKeyHash(r.Context(), HashKey(apiKey))
				if err != nil {
					http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), &result.Account)))
				return
			}

			token := extractBearer(r)
			if token == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			acc, err := svc.ValidateToken(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey hashes a raw access key the way access_keys.key_hash stores it.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
