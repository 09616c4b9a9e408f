package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/medcart/api/controllers"
	"github.com/angelmondragon/medcart/api/middleware"
	"github.com/angelmondragon/medcart/pkg/config"
	"github.com/angelmondragon/medcart/pkg/logger"
)

// StatusDeps are the read-only sources behind the local status view. Nil
// sources leave their routes unmounted.
type StatusDeps struct {
	Pingers  map[string]controllers.Pinger
	Uploads  controllers.TaskLister
	Notices  controllers.NoticeLister
	Records  controllers.RecordLister
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps StatusDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)
	if len(cfg.Status.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.Status.AllowedOrigins))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/status", func(r chi.Router) {
		if deps.Uploads != nil {
			r.Get("/uploads", controllers.UploadTasks(deps.Uploads))
		}
		if deps.Notices != nil {
			r.Get("/notices", controllers.RecentNotices(deps.Notices))
		}
		if deps.Records != nil {
			r.Get("/prescriptions", controllers.Prescriptions(deps.Records))
		}
	})

	return r
}
