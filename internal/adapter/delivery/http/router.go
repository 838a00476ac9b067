// Package http provides the HTTP delivery layer for the URL shortener service.
// This package contains the HTTP handlers, the security middleware and the
// request and response types used by the API.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vadimbarashkov/shortlink/pkg/middleware/recoverer"
)

// Guard is the part of the security guard used by the router.
type Guard interface {
	urlChecker
	admissionGuard
}

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	MaxRequestSize int64           // request body limit of the API routes, 0 disables it
	Metrics        metricsRecorder // nil disables recording
	MetricsHandler http.Handler    // served at /metrics when set
	SwaggerFile    string          // OpenAPI document served at /docs/swagger.yml when set
}

// NewRouter initializes and returns a new Chi router configured with middleware and routes for the URL shortener API.
func NewRouter(logger *httplog.Logger, urlUseCase urlUseCase, guard Guard, cfg RouterConfig) *chi.Mux {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(recoverer.New(logger.Logger))
	r.Use(instrument(metrics))

	h := newURLHandler(urlUseCase, guard, metrics, validator.New())

	r.Get("/health", handleHealth)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	if cfg.SwaggerFile != "" {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/docs/swagger.yml"),
		))

		r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, cfg.SwaggerFile)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(securityMiddleware(guard, metrics, logger.Logger))
		r.Use(recoverer.New(logger.Logger))
		if cfg.MaxRequestSize > 0 {
			r.Use(middleware.RequestSize(cfg.MaxRequestSize))
		}

		r.Get("/health", h.healthCheck)
		r.Post("/shorten", h.shortenURL)
		r.Get("/urls", h.listURLs)
		r.Get("/stats/{shortCode}", h.getURLStats)
		r.Put("/{shortCode}", h.modifyURL)
		r.Delete("/{shortCode}", h.deactivateURL)
	})

	// Redirects are not rate limited.
	r.Get("/{shortCode}", h.redirect)

	return r
}
