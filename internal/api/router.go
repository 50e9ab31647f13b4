/**
 * @description
 * This file sets up the HTTP router for the comptes service using the `chi`
 * routing library. It defines all the API routes and applies the middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The routing library.
 * - github.com/go-chi/cors: CORS handling.
 */
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/thetaf313/ges-comptes/internal/config"
	authmw "github.com/thetaf313/ges-comptes/pkg/middleware"
)

// NewRouter creates and configures a new HTTP router.
func NewRouter(cfg *config.Config, service CompteService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	h := NewCompteHandler(service, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		r.Route("/comptes", func(r chi.Router) {
			r.Get("/", h.ListComptes)
			r.Post("/", h.CreateCompte)
			r.Get("/numero/{numero}", h.GetCompteByNumero)
			r.Get("/{id}", h.GetCompte)
			r.Patch("/{id}", h.UpdateCompte)
			r.Delete("/{id}", h.CloseCompte)
			r.Post("/{id}/bloquer", h.BlockCompte)
			r.Post("/{id}/debloquer", h.UnblockCompte)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/search/{identifier}", h.SearchClient)
			r.Get("/{id}", h.GetClient)
			r.Get("/{id}/comptes", h.ListClientComptes)
		})
	})

	return r
}
