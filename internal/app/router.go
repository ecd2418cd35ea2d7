package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/opencatalog/catalog/internal/access"
	"github.com/opencatalog/catalog/internal/auth"
	"github.com/opencatalog/catalog/internal/datasets"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/observability"
	"github.com/opencatalog/catalog/internal/shared"
	"github.com/opencatalog/catalog/internal/showcases"
	"github.com/opencatalog/catalog/internal/tags"
	"github.com/opencatalog/catalog/internal/users"
	"github.com/opencatalog/catalog/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	Builder           RoleContextBuilder
	Metrics           *observability.Metrics
	AuthHandler       *auth.Handler
	UsersHandler      *users.Handler
	DatasetsHandler   *datasets.Handler
	TagsHandler       *tags.Handler
	ShowcasesHandler  *showcases.Handler
	ModerationHandler *moderation.Handler
	AccessHandler     *access.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with catalog defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		var observer BuildObserver
		if params.Metrics != nil {
			observer = params.Metrics
			r.Use(params.Metrics.Middleware)
		}
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			Builder:        params.Builder,
			Observer:       observer,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		if params.AuthHandler != nil {
			r.With(LoginRateLimit(params.Config)).Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.DatasetsHandler != nil {
			r.Route("/datasets", func(r chi.Router) {
				params.DatasetsHandler.MountRoutes(r)
				if params.AccessHandler != nil {
					r.Post("/{id}/access-requests", params.AccessHandler.Create)
				}
				if params.ShowcasesHandler != nil {
					r.Get("/{id}/showcases", params.ShowcasesHandler.ListForDataset)
				}
			})
		}
		if params.TagsHandler != nil {
			r.Route("/tags", params.TagsHandler.MountRoutes)
		}
		if params.ShowcasesHandler != nil {
			r.Route("/showcases", params.ShowcasesHandler.MountRoutes)
		}
		if params.ModerationHandler != nil {
			r.Route("/moderation", params.ModerationHandler.MountRoutes)
		}
		if params.AccessHandler != nil {
			r.Route("/access-requests", params.AccessHandler.MountRoutes)
			r.Get("/me/grants", params.AccessHandler.MyGrants)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
