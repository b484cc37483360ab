package mw

import (
	"crypto/subtle"
	"net/http"

	"github.com/MrSnakeDoc/integrator/internal/httpserver/respond"
	"github.com/MrSnakeDoc/integrator/internal/logger"
)

// APIKeyHeader carries the shared secret. The api_key query parameter is
// accepted as a fallback.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests that do not present the configured key.
func APIKey(key string, log logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(key)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got == "" {
				respond.Error(w, http.StatusUnauthorized, "API key is required")
				return
			}
			// An empty configured key never matches.
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				log.Debugf("APIKey: invalid key from %s", r.RemoteAddr)
				respond.Error(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
