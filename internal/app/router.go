package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/atelier-erp/atelier/internal/catalog"
	"github.com/atelier-erp/atelier/internal/customers"
	"github.com/atelier-erp/atelier/internal/engine"
	"github.com/atelier-erp/atelier/internal/finance"
	"github.com/atelier-erp/atelier/internal/masterdata/branches"
	"github.com/atelier-erp/atelier/internal/users"
	"github.com/atelier-erp/atelier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	EngineHandler   *engine.Handler
	CatalogHandler  *catalog.Handler
	CustomerHandler *customers.Handler
	BranchHandler   *branches.Handler
	FinanceHandler  *finance.Handler
	UserHandler     *users.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(params.Logger))

		params.EngineHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.CustomerHandler.MountRoutes(r)
		params.BranchHandler.MountRoutes(r)
		params.FinanceHandler.MountRoutes(r)
		params.UserHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
