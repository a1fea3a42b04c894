package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/ingest"
	"github.com/ruslano69/refdesk/internal/store"
)

// Deps is everything the HTTP layer needs from the rest of the service.
type Deps struct {
	Registry *dataset.Registry
	DB       *store.DB
	Ingest   *ingest.Service
	Redis    *redis.Client

	// Token is the shared secret expected in X-Refdesk-Token on /api routes.
	Token string
}

// NewRouter wires all dependencies and returns the chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(zerologMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(d))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	uh := &uploadsHandler{registry: d.Registry, ingest: d.Ingest}
	rh := &rowsHandler{registry: d.Registry, db: d.DB, ingest: d.Ingest}

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(d.Token))

		r.Get("/datasets", handleDatasets(d.Registry))

		r.Route("/datasets/{dataset}", func(r chi.Router) {
			r.Post("/uploads", uh.Create)
			r.Post("/uploads/{token}/chunk", uh.Chunk)
			r.Post("/uploads/{token}/check", uh.Check)
			r.Delete("/uploads/{token}", uh.Cancel)

			r.Get("/rows", rh.List)
			r.Put("/rows/{id}", rh.Update)
			r.Delete("/rows/{id}", rh.Delete)
			r.Delete("/rows", rh.DeleteAll)

			r.Get("/values/{column}", rh.Distinct)
			r.Get("/export.csv", rh.ExportCSV)
			r.Get("/export.xlsx", rh.ExportXLSX)
		})
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings Redis and the database to confirm the service is ready.
func handleReadyz(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		checks := map[string]string{
			"redis":    "ok",
			"database": "ok",
		}
		status := http.StatusOK

		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := d.DB.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, checks)
	}
}

func handleDatasets(reg *dataset.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, http.StatusOK, map[string][]string{"datasets": reg.Names()})
	}
}

// resolveDataset looks up the {dataset} URL param; a miss is a 404.
func resolveDataset(w http.ResponseWriter, r *http.Request, reg *dataset.Registry) (dataset.Dataset, bool) {
	name := chi.URLParam(r, "dataset")
	ds, ok := reg.Get(name)
	if !ok {
		writeFailure(w, http.StatusNotFound, "unknown dataset: "+name)
	}
	return ds, ok
}
