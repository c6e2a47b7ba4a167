package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/viralforge/mesh/services/integrations/M31-telegram-login-service/internal/application"
)

// Handler is the HTTP adapter entrypoint for Telegram login use-cases.
type Handler struct {
	service *application.Service
	version string
	checks  []readinessCheck
}

type readinessCheck struct {
	name  string
	check func(context.Context) error
}

// NewHandler constructs an HTTP handler bound to application service.
func NewHandler(service *application.Service, version string) *Handler {
	return &Handler{service: service, version: version}
}

// AddReadinessCheck registers a dependency probe consulted by /readyz.
func (h *Handler) AddReadinessCheck(name string, check func(context.Context) error) {
	h.checks = append(h.checks, readinessCheck{name: name, check: check})
}

// RouterConfig holds transport-level policy.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimitPerSecond and RateLimitBurst bound protocol requests per client IP.
	// A non-positive rate disables the limiter.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// NewRouter registers M31 HTTP routes and middleware stack.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	}))

	r.Get("/", handler.root)
	r.Get("/health", handler.health)
	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
	})
	r.Get("/swagger/", handler.swaggerUI)
	r.Get("/swagger/openapi.yaml", handler.swaggerSpec)

	limiter := newClientRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	r.Route("/api/v1/telegram", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.middleware)
			r.Post("/login", handler.login)
			r.Post("/submit-code", handler.submitCode)
			r.Post("/submit-password", handler.submitPassword)
		})

		r.Get("/sessions", handler.listSessions)
		r.Get("/sessions/{session_id}", handler.getSession)
		r.Get("/sessions/{session_id}/attempts", handler.loginHistory)
		r.Delete("/sessions/{session_id}", handler.closeSession)
		r.Delete("/sessions", handler.closeAllSessions)
	})

	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
