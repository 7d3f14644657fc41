package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"nksdk/internal/api/middleware"
	"nksdk/internal/web"
	"nksdk/pkg/nkconnect"
)

// RegisterConnectRoutes registers the demo pages and the JSON profile endpoint.
// The home page doubles as the login and logout callback; only callback
// hits count against the login rate limit.
func RegisterConnectRoutes(r chi.Router, connect *middleware.ConnectMiddleware, loginLimiter *middleware.RateLimiter, allowedOrigins []string) {
	templates, err := web.NewTemplates()
	if err != nil {
		panic("failed to load web templates: " + err.Error())
	}
	handlers := web.NewHandlers(templates)

	r.Group(func(r chi.Router) {
		r.Use(connect.Attach)

		r.With(callbackLimit(loginLimiter)).Get("/", handlers.HomeHandler)
		r.With(connect.RequireAuth).Get("/albums", handlers.AlbumsHandler)
		r.With(connect.RequireAuth).Post("/activity", handlers.ActivityHandler)

		r.Route("/api", func(r chi.Router) {
			r.Use(corsMiddleware(allowedOrigins))
			r.Use(connect.RequireAuth)
			r.Get("/me", handlers.MeHandler)
		})
	})
}

// callbackLimit applies limiter to requests carrying the login flow marker
func callbackLimit(limiter *middleware.RateLimiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := limiter.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get(nkconnect.ParamState) == "" {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware lets the listed origins read the profile with the visitor's cookies
func corsMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
