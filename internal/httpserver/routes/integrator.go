package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/integrator/internal/httpserver/deps"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/integrator/internal/httpserver/mw"
)

func init() { Register(registerIntegrator) }

func registerIntegrator(r chi.Router, d deps.Deps) {
	r.Route("/integrator", func(r chi.Router) {
		r.Use(mw.EnforceHost(d.AllowedHosts, d.Logger))
		r.Use(mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.RateLimitBurst,
			RefillPerIPPerMin: d.RateLimitPerMin,
			MaxEntries:        10000,
			TrustProxy:        d.TrustProxy,
		}))
		r.Use(mw.APIKey(d.APIKey, d.Logger))

		// Imports wait on the upstream, so they get their own deadline.
		r.With(timeout(d.ImportTimeout)).Post("/import", handlers.Import(d))

		r.Group(func(r chi.Router) {
			r.Use(timeout(d.RequestTimeout))
			r.Get("/", handlers.ListSnapshots(d))
			r.Post("/", handlers.CreateSnapshot(d))
			r.Get("/latest", handlers.LatestSnapshot(d))
			r.Get("/{id}", handlers.ShowSnapshot(d))
			r.Put("/{id}", handlers.UpdateSnapshot(d))
			r.Delete("/{id}", handlers.DeleteSnapshot(d))
		})
	})
}

// timeout is chi's Timeout, or a passthrough when d is not positive.
func timeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Timeout(d)
}
