package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mohacollection/storefront-backend/pkg/logger"
)

const maxCartSessionLen = 64

// CartSession resolves the anonymous cart key from header. Anonymous requests
// without a usable key are issued a new one, echoed back in the same header.
func CartSession(header string, logg *logger.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = "X-Cart-Session"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(header))
			if len(key) > maxCartSessionLen {
				key = ""
			}
			if _, authed := UserIDFromContext(ctx); !authed && key == "" {
				key = uuid.NewString()
			}
			if key != "" {
				w.Header().Set(header, key)
				ctx = WithCartSession(ctx, key)
				if logg != nil {
					ctx = logg.WithCartSession(ctx, key)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
