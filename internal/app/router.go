package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wastetrack/wastetrack/internal/bsda"
	"github.com/wastetrack/wastetrack/internal/bsdasri"
	"github.com/wastetrack/wastetrack/internal/bsdd"
	"github.com/wastetrack/wastetrack/internal/bsff"
	"github.com/wastetrack/wastetrack/internal/bsvhu"
	"github.com/wastetrack/wastetrack/internal/observability"
	"github.com/wastetrack/wastetrack/internal/revision"
	"github.com/wastetrack/wastetrack/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	BsddHandler     *bsdd.Handler
	BsdaHandler     *bsda.Handler
	BsdasriHandler  *bsdasri.Handler
	BsffHandler     *bsff.Handler
	BsvhuHandler    *bsvhu.Handler
	RevisionHandler *revision.Handler
	SearchHandler   *SearchHandler
	JobHandler      *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/bsdds", params.BsddHandler.MountRoutes)
	r.Route("/bsdas", params.BsdaHandler.MountRoutes)
	r.Route("/bsdasris", params.BsdasriHandler.MountRoutes)
	r.Route("/bsffs", params.BsffHandler.MountRoutes)
	r.Route("/bsvhus", params.BsvhuHandler.MountRoutes)
	r.Route("/revisions", params.RevisionHandler.MountRoutes)
	r.Route("/bsds", params.SearchHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
