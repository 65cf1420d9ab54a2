package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS allows browser clients on the given origins to call the API with the
// session cookie. With no origins configured it is a pass-through.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Version-Number"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
