package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/config"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/dashboard"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/headless"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/metrics"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/policy/ratelimit"
)

const requestTimeout = 60 * time.Second

// Server wires HTTP handlers to the dashboard service.
type Server struct {
	router   chi.Router
	svc      *dashboard.Service
	renderer headless.Renderer
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. renderer may be
// nil, in which case /map.png answers 501.
func NewServer(
	svc *dashboard.Service,
	renderer headless.Renderer,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:      svc,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/", s.mapPage)
	r.Get("/indicateurs", s.indicatorsPage)
	r.Get("/map.png", s.mapPNG)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/indicators", s.getIndicators)
		r.Get("/zones", s.getZones)
		r.Get("/layers/{name}", s.getLayer)
		r.Get("/history", s.getHistory)
		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			limiter := ratelimit.New(ratelimit.Config{
				PerMinute: cfg.Server.PostsPerMinute,
				Burst:     cfg.Server.PostBurst,
			})
			r.Use(limiter.Middleware(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
			}))
			r.Post("/refresh", s.refresh)
			r.Post("/upload", s.upload)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.svc.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeBody(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zap.L().Error("write body failed", zap.Error(err))
	}
}
