package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcpdeck/gateway/internal/domain"
	"github.com/mcpdeck/gateway/internal/observability"
)

// publicPaths are served without an API key.
var publicPaths = map[string]bool{
	"/health":     true,
	"/v1/signup":  true,
	"/v1/servers": true,
}

// Auth creates a middleware that resolves the Bearer API key to an account
// and injects the account ID into the request context. Requests to public
// paths pass through unauthenticated.
func Auth(ledger domain.LedgerStore) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := bearerToken(r)
			if apiKey == "" {
				unauthenticated(w, "missing API key: set Authorization: Bearer <key>")
				return
			}

			account, err := ledger.GetAccountByAPIKey(ctx, apiKey)
			if err != nil {
				observability.FromContext(ctx).Warn("API key rejected",
					observability.Error(err))
				unauthenticated(w, "invalid API key")
				return
			}

			ctx = observability.WithAccountID(ctx, account.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func unauthenticated(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"kind":    string(domain.KindAuthenticationRequired),
			"message": message,
		},
	})
}
