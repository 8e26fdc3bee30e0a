package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"hooky/internal/dispatch"
	"hooky/internal/history"
	"hooky/internal/settings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 70 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware; covers waiting for a worker and processing
	RequestTimeout = 60 * time.Second

	// Per-IP rate limit. GitHub delivers from a small pool of addresses, so
	// this is generous.
	RateLimitPerMinute = 600
	RateLimitBurst     = 100
)

// Server represents the HTTP server
type Server struct {
	Settings   *settings.Settings
	Dispatcher *dispatch.Dispatcher
	History    *history.History // nil disables the delivery log
	Metrics    *Metrics
	Logger     *slog.Logger
	TestMode   bool

	// Assets holds index.html and favicon.ico.
	Assets fs.FS
	// Commit is shown on the info page.
	Commit string

	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(s *settings.Settings, d *dispatch.Dispatcher, hist *history.History, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Settings:   s,
		Dispatcher: d,
		History:    hist,
		Metrics:    NewMetrics(),
		Logger:     logger,
		TestMode:   testMode,
		Assets:     StaticFS(),
		Commit:     commitFromEnv(),
	}
}

// Router creates and configures the HTTP router. The info page is rendered
// once here.
func (s *Server) Router() (*chi.Mux, error) {
	index, err := renderIndex(s.Assets, s.Commit)
	if err != nil {
		return nil, fmt.Errorf("failed to render info page: %w", err)
	}

	r := chi.NewRouter()

	// Global middleware. logRequests wraps Recoverer and Timeout so it sees
	// the 500 and 504 they write.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(RateLimitPerMinute, RateLimitBurst, s.Logger))
	}

	r.Get("/", s.HandleIndex(index))
	r.Head("/", s.HandleIndex(index))
	r.Post("/", s.HandleWebhook)

	r.Get("/favicon.ico", s.HandleFavicon)
	r.Head("/favicon.ico", s.HandleFavicon)

	r.Post("/marketplace/", s.HandleMarketplace)

	if s.Settings.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	return r, nil
}

// logRequests logs every request and feeds the HTTP metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			duration := time.Since(start)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.Metrics.ObserveRequest(r.Method, route, ww.Status(), duration)

			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", duration.Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server and blocks until it stops. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Start(host string, port int) error {
	router, err := s.Router()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr, "workers", s.Dispatcher.Workers(), "metrics", s.Settings.MetricsEnabled)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight processor
// invocations and closes the delivery log.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Logger.Error("HTTP server shutdown failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.Dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("Shutdown deadline reached with events still processing")
	}

	// Close history database connection
	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
