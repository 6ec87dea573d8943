// Package server exposes the HTTP trigger surface for pipeline runs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"convoy/internal/history"
	"convoy/internal/pipeline"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit  = 12
	TriggerRateLimit = 4
)

// Runner executes pipeline runs. Satisfied by *pipeline.Controller.
type Runner interface {
	Execute(ctx context.Context, opts pipeline.Options) *pipeline.Run
}

// Server receives signed trigger requests and starts pipeline runs.
type Server struct {
	Runner        Runner
	History       *history.Store
	Logger        *slog.Logger
	TriggerSecret string
	TestMode      bool

	// runLock serializes pipeline runs: one run at a time, concurrent
	// triggers are rejected rather than queued.
	runLock sync.Mutex
	runWg   sync.WaitGroup
}

// NewServer creates a server instance.
func NewServer(runner Runner, hist *history.Store, logger *slog.Logger, triggerSecret string, testMode bool) *Server {
	return &Server{
		Runner:        runner,
		History:       hist,
		Logger:        logger,
		TriggerSecret: triggerSecret,
		TestMode:      testMode,
	}
}

// Router creates and configures the HTTP router.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)

	// Trigger route with stricter rate limit
	if !s.TestMode {
		r.With(NewTriggerRateLimitMiddleware(TriggerRateLimit, s.Logger)).Post("/trigger", s.HandleTrigger)
	} else {
		r.Post("/trigger", s.HandleTrigger)
	}

	return r
}

// Start starts the HTTP server.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return server.ListenAndServe()
}

// WaitForRuns waits for all in-flight async pipeline runs to complete.
// This is primarily useful for testing.
func (s *Server) WaitForRuns() {
	s.runWg.Wait()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.runWg.Wait()

	if s.History != nil {
		return s.History.Close()
	}
	return nil
}
