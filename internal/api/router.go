// Package api exposes the recommendation core over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thomaskoefod/cardreadr/internal/database"
	"github.com/thomaskoefod/cardreadr/internal/logging"
	"github.com/thomaskoefod/cardreadr/internal/recommend"
	"github.com/thomaskoefod/cardreadr/internal/scoring"
	"github.com/thomaskoefod/cardreadr/internal/tracking"
)

// Handler holds the collaborators the routes call into.
type Handler struct {
	db         *database.DB
	dispatcher *recommend.Dispatcher
	recorder   *tracking.Recorder
	registry   *scoring.Registry
	models     *scoring.ModelManager
	now        func() time.Time
}

func NewHandler(db *database.DB, dispatcher *recommend.Dispatcher, recorder *tracking.Recorder, registry *scoring.Registry, models *scoring.ModelManager) *Handler {
	return &Handler{
		db:         db,
		dispatcher: dispatcher,
		recorder:   recorder,
		registry:   registry,
		models:     models,
		now:        time.Now,
	}
}

// NewRouter builds the HTTP routes. requestsPerMinute <= 0 disables rate limiting.
func NewRouter(h *Handler, requestsPerMinute int) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if requestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(requestsPerMinute, time.Minute))
		}

		r.Get("/posts/batch", h.GetBatch)
		r.Get("/posts/next", h.GetNext)
		r.Get("/entry/{id}", h.EntryDetails)
		r.Get("/stats", h.Stats)

		r.Post("/vote", h.Vote)
		r.Post("/open", h.Open)
		r.Post("/time", h.Time)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			r.Post("/", h.UploadModel)
			r.Post("/deactivate", h.DeactivateModel)
			r.Post("/{id}/activate", h.ActivateModel)
			r.Delete("/{id}", h.DeleteModel)
		})
	})

	return r
}

// requestID issues a UUID request id unless the caller sent one, so the id
// chi stores in the context matches what the logs carry.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(chimiddleware.RequestIDHeader, id)
		}
		w.Header().Set(chimiddleware.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err)
		return
	}
	respondOK(w, r, map[string]string{"scorer": h.registry.Name()})
}
