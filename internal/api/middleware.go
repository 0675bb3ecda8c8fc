/**
 * @description
 * Custom middleware for the HTTP router. The billing-sync-service is only
 * called by other backend services, so requests authenticate with the shared
 * internal API key rather than end-user credentials.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalAPIKeyMiddleware rejects requests that do not carry the shared
// internal API key in the X-Internal-Api-Key header.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := []byte(strings.TrimSpace(r.Header.Get("X-Internal-Api-Key")))
			if len(expected) == 0 || subtle.ConstantTimeCompare(expected, provided) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid internal api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
