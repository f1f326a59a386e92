package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/podari/internal/auth"
	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/model"
	"github.com/erazemk/podari/internal/workflow"
)

// Deps are the services the router exposes.
type Deps struct {
	Auth     *auth.Authenticator
	Workflow *workflow.Service
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(d.CORSOrigins))

	authHandler := &AuthHandler{Auth: d.Auth}
	meHandler := &MeHandler{Workflow: d.Workflow}
	itemsHandler := &ItemsHandler{Workflow: d.Workflow}
	usersHandler := &UsersHandler{Workflow: d.Workflow}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		// Public.
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth))

			r.Post("/auth/logout", authHandler.Logout)
			r.Put("/auth/password", authHandler.ChangePassword)

			r.Get("/me", meHandler.Profile)
			r.Get("/me/ledger", meHandler.Ledger)
			r.Get("/me/notifications", meHandler.Notifications)
			r.Post("/me/notifications/read-all", meHandler.MarkAllRead)
			r.Post("/me/notifications/{id}/read", meHandler.MarkRead)

			r.Get("/items", itemsHandler.List)
			r.With(RequireRole(model.RoleContributor)).Post("/items", itemsHandler.Submit)
			r.Get("/items/{id}", itemsHandler.Get)
			r.With(RequireRole(model.RoleReviewer)).Post("/items/{id}/review", itemsHandler.Review)
			r.Post("/items/{id}/redeem", itemsHandler.Redeem)
			r.Put("/items/{id}/images", itemsHandler.UploadImage)
			r.Get("/items/{id}/images/{n}", itemsHandler.GetImage)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(model.RoleAdmin))
				r.Get("/users", usersHandler.List)
				r.Put("/users/{id}/role", usersHandler.SetRole)
				r.Get("/users/{id}/reconcile", usersHandler.Reconcile)
				r.Get("/stats", usersHandler.Stats)
			})
		})
	})

	return r
}
