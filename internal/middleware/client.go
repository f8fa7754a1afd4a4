package middleware

import (
	"net/http"

	pkghttp "github.com/BradenHooton/torneo/pkg/http"
)

// ClientInfo resolves the caller's address and user agent once and stores
// them in the request context.
func ClientInfo(ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := pkghttp.ClientInfo{
				IP:        pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent: pkghttp.UserAgent(r),
			}
			next.ServeHTTP(w, r.WithContext(pkghttp.WithClientInfo(r.Context(), info)))
		})
	}
}
