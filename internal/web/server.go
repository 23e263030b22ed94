// Package web exposes the ingestion and analytics operations over HTTP.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/web/middleware"
)

// RawArchive reads archived upload bytes back.
type RawArchive interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Options configures the server. Zero values fall back to sensible defaults.
type Options struct {
	MaxFileSize    int64
	RequestTimeout time.Duration
	TrustedProxies []string
	EnableCSP      bool

	RateLimitEnabled  bool
	RequestsPerMinute int
	UploadsPerMinute  int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Archive serves GET /api/imports/{jobID}/raw when set.
	Archive RawArchive

	// Ping reports store health for /healthz.
	Ping func(ctx context.Context) error

	// Registerer receives HTTP request metrics when set.
	Registerer prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 100 << 20
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 100
	}
	if o.UploadsPerMinute <= 0 {
		o.UploadsPerMinute = 10
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	return o
}

// Server is the HTTP API server.
type Server struct {
	service  *core.Service
	opts     Options
	router   *chi.Mux
	validate *validator.Validate
	limiters []*middleware.RateLimiter
	server   *http.Server
}

// NewServer creates a Server with middleware and routes installed.
func NewServer(service *core.Service, opts Options) *Server {
	s := &Server{
		service:  service,
		opts:     opts.withDefaults(),
		router:   chi.NewRouter(),
		validate: newValidator(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(middleware.Logger)
	if s.opts.Registerer != nil {
		s.router.Use(middleware.Metrics(s.opts.Registerer))
	}
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.opts.EnableCSP))
	s.router.Use(s.rateLimit(s.opts.RequestsPerMinute))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Upload endpoints run under the commit timeout owned by the service.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(s.opts.UploadsPerMinute))
			r.Post("/imports/preview", s.handlePreview)
			r.Post("/imports", s.handleCommit)
		})

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.opts.RequestTimeout))

			r.Get("/adapters", s.handleListAdapters)

			r.Get("/imports/{jobID}", s.handleGetImportJob)
			r.Get("/imports/{jobID}/raw", s.handleGetRawUpload)
			r.Get("/datasets/{datasetID}/imports", s.handleListImportJobs)

			r.Post("/facilities", s.handleCreateFacility)
			r.Get("/facilities/{facilityID}", s.handleGetFacility)
			r.Get("/facilities/{facilityID}/reconciliation", s.handleReconcile)
			r.Get("/facilities/{facilityID}/reconciliation/{year}/explain", s.handleExplain)
			r.Get("/facilities/{facilityID}/anomalies", s.handleFacilityAnomalies)
			r.Get("/sectors/{sector}/anomalies", s.handleSectorAnomalies)
		})
	})
}

func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.opts.RateLimitEnabled {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := middleware.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl.Middleware
}

// Handler returns the root handler, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				// JSON only; nothing should ever be loaded from a response.
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			next.ServeHTTP(w, r)
		})
	}
}
