package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/artello/eventflow/internal/auth"
	"github.com/artello/eventflow/internal/graph"
	"github.com/artello/eventflow/internal/queue"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
}

func New(port int, timeout time.Duration, logger *slog.Logger, resolver *auth.Resolver, publisher queue.Publisher, engine graph.QueryEngine) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "eventflow")
	})

	h := &handlers{logger: logger, publisher: publisher, engine: engine}

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(AppKeyMiddleware(resolver))

		r.Post("/events/ingest", h.ingest)

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/flow/{session_id}", h.eventFlow)
			r.Get("/latest/{session_id}", h.latestEvent)
			r.Get("/counts/{session_id}", h.eventCounts)
			r.Get("/funnel/{session_id}", h.conversionFunnel)
			r.Get("/retention", h.retention)
			r.Get("/heatmap", h.heatmap)
			r.Get("/events/global", h.globalEventCounts)
			r.Get("/events/top", h.topEvents)
			r.Post("/funnel/global", h.globalFunnel)
			r.Post("/segments", h.segmentedUsers)
			r.Post("/query", h.customQuery)
		})
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
