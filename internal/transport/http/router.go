package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/afwm/CCBP-pub/internal/batch"
	"github.com/afwm/CCBP-pub/internal/config"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
	"github.com/afwm/CCBP-pub/internal/license"
)

// Server bundles the local API's dependencies.
type Server struct {
	cfg    config.ServerConfig
	auth   *license.Authenticator
	runner *batch.Runner
	hub    *Hub
	logger *slog.Logger
}

func NewServer(cfg config.ServerConfig, auth *license.Authenticator, runner *batch.Runner, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Server{
		cfg:    cfg,
		auth:   auth,
		runner: runner,
		hub:    hub,
		logger: logger.With(slog.String("component", "http")),
	}
}

// Router builds the chi router for the local API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.traceMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	limiter := rate.NewLimiter(rate.Limit(s.cfg.VerifyRPS), s.cfg.VerifyBurst)
	licenseHandler := NewLicenseHandler(s.auth, limiter, s.logger)
	jobHandler := NewJobHandler(s.runner, s.hub, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/jobs", jobHandler.Routes())
		r.Get("/health", s.health)
	})

	r.Get("/ws", s.hub.ServeWS)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// traceMiddleware guarantees every request context carries a trace id
// and logs the request in the structured format the rest of the
// process uses.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := infrastructure.EnsureTraceID(r.Context())
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.InfoContext(ctx, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
