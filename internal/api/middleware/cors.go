package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// Methods the API routes are registered with. Preflights for anything else
// are refused.
var corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// Request headers browsers may send. EventSource adds Last-Event-ID and
// Cache-Control when it reconnects to /jobs/{id}/events.
var corsRequestHeaders = []string{"Accept", "Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"}

// Response headers scripts may read: Location of a queued job or batch,
// Retry-After on 429s and Content-Disposition on result downloads.
var corsExposedHeaders = []string{"Location", "Retry-After", "Content-Disposition"}

// CORS allows browser clients from allowedOrigins. An empty list or "*" admits
// any origin without credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   corsRequestHeaders,
		ExposedHeaders:   corsExposedHeaders,
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           600,
	})
}
