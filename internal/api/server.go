// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/queuesync/queuesync/internal/core"
	"github.com/queuesync/queuesync/internal/jobs"
	"github.com/queuesync/queuesync/internal/store"
)

// keepAliveInterval is how often an idle SSE stream gets a comment line.
var keepAliveInterval = 30 * time.Second

// Server holds the dependencies for our API.
type Server struct {
	app   *core.App
	store *store.Store
	jobs  *jobs.Manager
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// NewServer creates a new Server instance.
func NewServer(app *core.App) *Server {
	return &Server{
		app:   app,
		store: app.Jobs.Store(),
		jobs:  app.Jobs,
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleGetVersion)

	// Streams stay open well past the request timeout.
	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Get("/api/projects/{projectID}/events", s.handleProjectEvents)
		r.Get("/ws/projects/{projectID}", s.handleProjectSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.AdminOnlyMiddleware)
			r.Get("/api/admin/jobs/events", s.handleAdminEvents)
			r.Get("/ws/admin/jobs", s.handleAdminSocket)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Post("/api/auth/login", s.handleLogin)

		r.Route("/api/worker", func(r chi.Router) {
			r.Use(s.WorkerMiddleware)
			r.Post("/jobs/claim", s.handleWorkerClaim)
			r.Post("/jobs/{jobID}/{report}", s.handleWorkerReport)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware)

			r.Post("/api/auth/logout", s.handleLogout)
			r.Get("/api/auth/me", s.handleGetMe)

			r.Route("/api/projects", func(r chi.Router) {
				r.Post("/", s.handleCreateProject)
				r.Get("/{projectID}/jobs", s.handleListProjectJobs)
				r.Post("/{projectID}/jobs", s.handleSubmitJob)
			})

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(s.AdminOnlyMiddleware)

				r.Get("/jobs", s.handleListAdminJobs)
				r.Post("/jobs/{jobID}/{action}", s.handleAdminJobAction)
				r.Delete("/jobs/{jobID}", s.handleDeleteJob)

				r.Get("/users", s.handleAdminListUsers)
				r.Post("/users", s.handleAdminCreateUser)
				r.Put("/users/{userID}", s.handleAdminUpdateUser)
				r.Delete("/users/{userID}", s.handleAdminDeleteUser)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.app.Hub.ClientCount(),
	})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}
