// Package httpapi serves the field mapper over HTTP for browser-based operators. Each operator
// works in a session with its own viewer; all sessions edit the same field store.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/a3tai/pdf-field-mapper/internal/logging"
	"github.com/a3tai/pdf-field-mapper/internal/mapper"
	"github.com/a3tai/pdf-field-mapper/internal/metrics"
	"github.com/a3tai/pdf-field-mapper/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Options configure the HTTP server
type Options struct {
	Addr           string
	AllowedOrigins []string
}

// Server is the HTTP front end of the field mapper
type Server struct {
	mapper   *mapper.Mapper
	sessions *session.Registry
	logger   logging.Logger
	opts     Options
	handler  http.Handler
}

// NewServer builds the router. A nil logger discards output.
func NewServer(m *mapper.Mapper, sessions *session.Registry, opts Options, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		mapper:   m,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.withViewer(s.handleSnapshot))
			r.Delete("/", s.handleDeleteSession)
			r.Post("/click", s.withViewer(s.handleClick))
			r.Post("/save", s.withViewer(s.handleSave))
			r.Post("/cancel", s.withViewer(s.handleCancel))
			r.Post("/delete", s.withViewer(s.handleDeleteField))
			r.Post("/navigate", s.withViewer(s.handleNavigate))
			r.Post("/zoom", s.withViewer(s.handleZoom))
			r.Get("/page.png", s.withViewer(s.handlePageImage))
		})

		r.Get("/fields", s.handleListFields)
		r.Delete("/fields", s.handleClearFields)
		r.Get("/fields/{fieldID}", s.handleGetField)
		r.Delete("/fields/{fieldID}", s.handleRemoveField)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
		r.Post("/publish", s.handlePublish)
		r.Post("/fill", s.handleFill)
		r.Get("/template", s.handleTemplate)
		r.Get("/template/fields", s.handleDetectFields)
		r.Post("/template/fields/seed", s.handleSeedFields)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
		},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return c.Handler(r)
}

// Run serves until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("HTTP server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Infow("HTTP server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":   "success",
		"fields":   s.mapper.Store.Count(),
		"sessions": s.sessions.Len(),
	}
	if err := s.mapper.Store.LastPersistError(); err != nil {
		status["persistError"] = err.Error()
	}
	writeJSON(w, http.StatusOK, status)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency labeled by chi route pattern
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
