package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RouterOptions carries the optional parts of a router.
type RouterOptions struct {
	// Auth guards the service-to-service routes. Nil leaves them open.
	Auth func(http.Handler) http.Handler
	// Metrics is mounted at MetricsPath when both are set.
	Metrics     http.Handler
	MetricsPath string
}

func newBaseRouter(log logrus.FieldLogger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	if opts.Metrics != nil && opts.MetricsPath != "" {
		r.Method(http.MethodGet, opts.MetricsPath, opts.Metrics)
	}
	return r
}

func guard(opts RouterOptions) func(http.Handler) http.Handler {
	if opts.Auth != nil {
		return opts.Auth
	}
	return func(next http.Handler) http.Handler { return next }
}

// NewServerRouter routes the server process.
func NewServerRouter(h *Handler, log logrus.FieldLogger, opts RouterOptions) *chi.Mux {
	r := newBaseRouter(log, opts)

	r.Get("/health", h.HealthCheck)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/enqueue", h.Enqueue)
		r.Get("/status/{id}", h.Status)
		r.Get("/metrics", h.Metrics)

		r.Route("/callback", func(r chi.Router) {
			r.Use(guard(opts))
			r.Post("/processing", h.CallbackProcessing)
			r.Post("/done", h.CallbackDone)
		})
	})

	return r
}

// NewWorkerRouter routes the worker process.
func NewWorkerRouter(h *WorkerHandler, log logrus.FieldLogger, opts RouterOptions) *chi.Mux {
	r := newBaseRouter(log, opts)

	r.Get("/health", h.HealthCheck)

	r.Route("/tasks", func(r chi.Router) {
		r.With(guard(opts)).Post("/enqueue", h.Enqueue)
	})

	return r
}
