// Package tenant carries the tenant id of an HTTP request.
package tenant

import (
	"context"
	"net/http"
	"strconv"
)

// Header is the request header holding the tenant id.
const Header = "X-Tenant-ID"

type ctxKey struct{}

func WithID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the tenant id and whether one was set.
func FromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(ctxKey{}).(int)
	return id, ok && id > 0
}

// Middleware rejects requests without a valid tenant header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.Header.Get(Header))
		if err != nil || id <= 0 {
			http.Error(w, "missing or invalid "+Header, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
