package middleware

import (
	"crypto/subtle"
	"net/http"

	"purchase-settlement-api/pkg/apierror"
	"purchase-settlement-api/pkg/response"
)

// AdminKeyHeader carries the operator key on admin requests.
const AdminKeyHeader = "X-Admin-Key"

// NewAdminKeyMiddleware guards operator endpoints with a shared key.
// With an empty key every request is refused.
func NewAdminKeyMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				response.Error(w, apierror.ServiceUnavailable("admin endpoints are disabled: ADMIN_KEY not set"))
				return
			}

			got := r.Header.Get(AdminKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				response.Error(w, apierror.Unauthorized("Invalid or missing "+AdminKeyHeader))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
