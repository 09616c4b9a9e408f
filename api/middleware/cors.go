package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS lets the listed origins read the status view. The view is read-only,
// so only GET and preflight requests are allowed.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}).Handler
}
