package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bundle-pricing/adapters/webhook"
	"bundle-pricing/core/batching"
	"bundle-pricing/core/cache"
	"bundle-pricing/core/engine"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/stream"
	"bundle-pricing/internal/logging"
)

// Options wires the server to its collaborators. Only Engine is required.
type Options struct {
	Engine *engine.Engine

	// Cache is the shared result cache; nil disables caching
	Cache *cache.Cache

	// Sweeper backs POST /cache/sweep
	Sweeper *cache.Sweeper

	// Monitor receives per-batch statistics
	Monitor *monitor.Monitor

	// Broadcaster serves /subscribe and feeds /calculate/stream
	Broadcaster *stream.Broadcaster

	// StepSink replaces the broadcaster as the destination of streamed
	// steps, e.g. a Redis publisher whose relay feeds the broadcaster
	StepSink engine.StepSink

	// Loader configures the per-request batching loader
	Loader batching.Config

	// WebhookSecret enables POST /webhooks/rule-change
	WebhookSecret string

	// Reloader refreshes strategies on a strategy.updated webhook
	Reloader Reloader

	// Registerer and Gatherer back HTTP metrics and GET /metrics.
	// Nil disables both.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Version string
	Logger  *zap.Logger
}

// Reloader re-reads a strategy source
type Reloader interface {
	Reload() error
}

// Server is the API server
type Server struct {
	opts        Options
	mux         *http.ServeMux
	handler     http.Handler
	invalidator *cache.Invalidator
	logger      *zap.Logger
	started     time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Broadcaster == nil {
		opts.Broadcaster = stream.NewBroadcaster(opts.Logger)
	}
	logger := logging.Component(opts.Logger, "api")
	opts.Loader.Logger = logging.Or(opts.Loader.Logger)

	s := &Server{
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  logger,
		started: time.Now(),
	}
	if store := opts.Cache.Store(); store != nil {
		s.invalidator = cache.NewInvalidator(store, opts.Logger)
	}

	s.registerRoutes()
	s.handler = withRequestLogging(logger, newHTTPMetrics(opts.Registerer), s.mux)
	return s
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Pricing
	s.mux.HandleFunc("POST /calculate", s.handleCalculate)
	s.mux.HandleFunc("POST /calculate/batch", s.handleBatch)
	s.mux.HandleFunc("GET /calculate/stream", s.handleStream)
	s.mux.HandleFunc("GET /subscribe/{correlationId}", s.handleSubscribe)

	// Cache administration
	s.mux.HandleFunc("POST /cache/invalidate/{scope}", s.handleInvalidate)
	s.mux.HandleFunc("POST /cache/sweep", s.handleSweep)
	s.mux.HandleFunc("GET /cache/metrics", s.handleCacheMetrics)
	if s.opts.WebhookSecret != "" {
		s.mux.Handle("POST /webhooks/rule-change", webhook.Handler(s.opts.WebhookSecret, s.applyRuleChange, s.opts.Logger))
	}

	// Supporting endpoints
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /version", s.handleVersion)
}

// newLoader creates the batching loader for one inbound request
func (s *Server) newLoader() *batching.Loader {
	var recorder batching.Recorder
	if s.opts.Monitor != nil {
		recorder = s.opts.Monitor
	}
	return batching.NewLoader(s.opts.Engine, s.opts.Cache, recorder, s.opts.Loader)
}

// applyRuleChange reloads strategies when asked and drops affected results
func (s *Server) applyRuleChange(ctx context.Context, ev webhook.Event) (int, error) {
	if ev.Type == webhook.EventStrategyUpdated && s.opts.Reloader != nil {
		if err := s.opts.Reloader.Reload(); err != nil {
			return 0, err
		}
	}
	if s.invalidator == nil {
		return 0, nil
	}
	return s.invalidator.InvalidateByRuleChange(ctx, ev.Category, ev.Entities)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"version": s.opts.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// handleVersion handles GET /version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version":     s.opts.Version,
		"engine":      "bundle-pricing",
		"api_version": "v1",
	}, http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, body ErrorBody, status int) {
	s.writeJSON(w, ErrorResponse{Error: body}, status)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.opts.Broadcaster.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func generateRequestID() string {
	return uuid.NewString()
}
