// Package handlers exposes the scan pipeline and reader accounts over HTTP.
package handlers

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lehigh-university-libraries/shelfscan/internal/auth"
	"github.com/lehigh-university-libraries/shelfscan/internal/images"
	"github.com/lehigh-university-libraries/shelfscan/internal/metrics"
	"github.com/lehigh-university-libraries/shelfscan/internal/pipeline"
	"github.com/lehigh-university-libraries/shelfscan/internal/storage"
)

// SessionTokenHeader carries the opaque token returned by POST /scan.
const SessionTokenHeader = "X-Session-Token"

type Deps struct {
	Store          *storage.Store
	Pipeline       *pipeline.Orchestrator
	Issuer         *auth.Issuer
	Sealer         *auth.Sealer
	Fetcher        *images.Fetcher
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimit      int
}

type Handler struct {
	store     *storage.Store
	pipeline  *pipeline.Orchestrator
	issuer    *auth.Issuer
	sealer    *auth.Sealer
	fetcher   *images.Fetcher
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	validate  *validator.Validate
	maxUpload int64
	origins   []string
	rateLimit int
}

func New(d Deps) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if d.Fetcher == nil {
		d.Fetcher = images.NewFetcher()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	return &Handler{
		store:     d.Store,
		pipeline:  d.Pipeline,
		issuer:    d.Issuer,
		sealer:    d.Sealer,
		fetcher:   d.Fetcher,
		metrics:   d.Metrics,
		gatherer:  d.Gatherer,
		validate:  v,
		maxUpload: d.MaxUploadBytes,
		origins:   d.CORSOrigins,
		rateLimit: d.RateLimit,
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", SessionTokenHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.LimitByIP(h.rateLimit, time.Minute))
		}

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.HandleSignup)
			r.Post("/login", h.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.issuer.Optional)
			r.Post("/scan", h.HandleUpload)
			r.Get("/scan/{id}", h.HandleGetScan)
			r.Get("/scan/{id}/recommendations", h.HandleRecommendations)
			r.Post("/scan/{id}/feedback", h.HandleFeedback)
			r.Get("/history/{id}", h.HandleGetScan)
			r.Delete("/history/{id}", h.HandleDeleteScan)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.issuer.Required)
			r.Get("/history", h.HandleListHistory)
			r.Route("/user", func(r chi.Router) {
				r.Get("/profile", h.HandleGetProfile)
				r.Put("/profile", h.HandleUpdateProfile)
				r.Get("/preferences", h.HandleGetPreferences)
				r.Put("/preferences", h.HandleUpdatePreferences)
				r.Get("/reading-history", h.HandleListReadingHistory)
				r.Post("/reading-history", h.HandleAddReadingHistory)
				r.Delete("/data", h.HandleDeleteUserData)
			})
		})
	})

	return r
}
