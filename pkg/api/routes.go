package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)

				r.Post("/api-keys", s.handleCreateAPIKey)
				r.Get("/api-keys", s.handleListMyAPIKeys)
				r.Delete("/api-keys/{id}", s.handleDeleteMyAPIKey)
			})
		})

		// Dashboard data endpoints.
		r.Group(func(r chi.Router) {
			if !s.cfg.Auth.AnonymousRead {
				r.Use(s.requireAuth)
			} else {
				r.Use(s.optionalAuth)
			}

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Public,
				))
			}

			r.Get("/dashboard", s.handleDashboard)

			r.Route("/patchsets", func(r chi.Router) {
				r.Get("/", s.handleListPatchSets)
				r.Get("/{id}", s.handleGetPatchSet)
				r.Get("/{id}/status", s.handlePatchSetStatus)
			})

			r.Route("/tarballs", func(r chi.Router) {
				r.Get("/", s.handleListTarballs)
				r.Get("/{id}", s.handleGetTarball)
				r.Get("/{id}/status", s.handleTarballStatus)
			})

			r.Route("/branches", func(r chi.Router) {
				r.Get("/", s.handleListBranches)
				r.Get("/{id}", s.handleGetBranch)
			})

			r.Route("/environments", func(r chi.Router) {
				r.Get("/", s.handleListEnvironments)
				r.Get("/{id}", s.handleGetEnvironment)
				r.Get("/{id}/runs", s.handleEnvironmentRuns)
				r.Get("/{id}/measurements", s.handleEnvironmentMeasurements)
			})

			r.Get("/testcases", s.handleListTestCases)
			r.Get("/measurements/{id}", s.handleGetMeasurement)
			r.Get("/runs/{id}", s.handleGetTestRun)

			// Artifact downloads.
			r.Get("/files/*", s.handleFileRequest)
			r.Head("/files/*", s.handleFileRequest)
		})

		// Write endpoints (authenticated).
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Post("/runs", s.handleCreateTestRun)
			r.Post("/environments", s.handleCreateEnvironment)
			r.Post("/environments/{id}/clone", s.handleCloneEnvironment)
			r.Post("/measurements", s.handleCreateMeasurement)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", s.handleListSubscriptions)
				r.Post("/", s.handleCreateSubscription)
				r.Delete("/{id}", s.handleDeleteSubscription)
			})
		})

		// Admin endpoints (require staff).
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(s.requireStaff)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			// User management.
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)

			// Session management.
			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{id}", s.handleDeleteSessionByID)

			// API key management.
			r.Get("/api-keys", s.handleListAllAPIKeys)
			r.Delete("/api-keys/{id}", s.handleDeleteAPIKey)

			// Group membership management.
			r.Get("/memberships", s.handleListMemberships)
			r.Post("/memberships", s.handleAddMembership)
			r.Delete("/memberships", s.handleRemoveMembership)

			// Ingestion endpoints for the build pipeline.
			r.Post("/branches", s.handleCreateBranch)
			r.Post("/patchsets", s.handleCreatePatchSet)
			r.Put("/patchsets/{id}", s.handleUpdatePatchSet)
			r.Post("/tarballs", s.handleCreateTarball)
			r.Post("/testcases", s.handleCreateTestCase)

			// Environment visibility.
			r.Post("/environments/{id}/public", s.handleSetEnvironmentPublic)
			r.Post("/environments/{id}/private", s.handleSetEnvironmentPrivate)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
