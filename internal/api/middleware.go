package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// apiKeyQueryParam lets plain download links (PDF/XLSX exports) carry the
// admin key, since a browser navigation cannot set headers.
const apiKeyQueryParam = "api_key"

// APIKeyAuth guards admin routes. The key is read from X-API-Key, then
// Authorization: Bearer <key>, then the api_key query parameter.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestAPIKey(r)

			if key == "" {
				respondError(w, http.StatusUnauthorized, "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>")
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				log.Printf("[API] Rejected invalid API key for %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
				respondError(w, http.StatusForbidden, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.URL.Query().Get(apiKeyQueryParam)
}
