package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basement-chat/basement/internal/setup"
	"github.com/basement-chat/basement/shared/middleware/metrics"
)

// New creates and configures the chi router with all the routes.
func New(deps *setup.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chi_middleware.RealIP)
	r.Use(chi_middleware.Recoverer)
	r.Use(metrics.Middleware)

	// setup CORS for browser clients
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:8081"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	h := deps.Handler
	authMw := deps.AuthMiddleware

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// public reads
		r.Get("/posts/{post}/votes", h.GetVotes)
		r.Get("/channels/{channel}/messages", h.GetMessages)
		r.Get("/channels/{channel}/live", h.Live)

		// wallet-gated writes
		r.Group(func(r chi.Router) {
			r.Use(authMw.NeedAuth())
			r.Post("/channels", h.CreateChannel)
			r.Post("/channels/{channel}/messages", h.CreateMessage)
			r.Post("/posts/{post}/vote", h.CastVote)
		})
	})

	// avoid 404s for preflight requests
	r.MethodFunc(http.MethodOptions, "/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
