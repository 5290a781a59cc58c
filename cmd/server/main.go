// Package main is the HTTP entry point of ophunt: it serves option hunts for
// a stock position as JSON or as a plain-text table.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/ophunt/internal/circuitbreaker"
	"github.com/yourorg/ophunt/internal/config"
	"github.com/yourorg/ophunt/internal/fetch"
	"github.com/yourorg/ophunt/internal/hunt"
	"github.com/yourorg/ophunt/internal/metrics"
	"github.com/yourorg/ophunt/internal/otel"
	"github.com/yourorg/ophunt/internal/render"
	"github.com/yourorg/ophunt/internal/secrets"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server represents the ophunt HTTP server instance
type Server struct {
	config config.Config

	runner   *hunt.Runner
	provider string

	// Circuit breaker guarding the provider, may be nil
	breaker *circuitbreaker.CircuitBreaker

	metrics   *metrics.Collector
	rateLimit *rate.Limiter

	server *http.Server
}

// main is the entry point for the application
func main() {
	cfg := config.Load()
	config.SetupLogging(cfg)

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	ctx := context.Background()
	store, err := secrets.New(ctx, cfg.CredentialSource, cfg.AWSRegion)
	if err != nil {
		logrus.Fatalf("Failed to initialize credential store: %v", err)
	}

	provider, err := fetch.New(ctx, cfg, store)
	if err != nil {
		logrus.Fatalf("Failed to create %s provider: %v", cfg.Provider, err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logrus.Fatalf("Failed to register metrics: %v", err)
	}

	guarded := circuitbreaker.Wrap(provider, circuitbreaker.Options{
		FailureThreshold: cfg.BreakerFailures,
		CooldownPeriod:   cfg.BreakerCooldown,
		SuccessThreshold: 1,
		OnStateChange: func(_, to circuitbreaker.State) {
			collector.SetBreakerState(int(to))
		},
	})

	runner := hunt.NewRunner(guarded, cfg.Policy(), collector)
	NewServer(cfg, runner, provider.Name(), guarded.Breaker(), collector).Start()
}

// NewServer creates a new server instance
func NewServer(cfg config.Config, runner *hunt.Runner, provider string, breaker *circuitbreaker.CircuitBreaker, collector *metrics.Collector) *Server {
	s := &Server{
		config:    cfg,
		runner:    runner,
		provider:  provider,
		breaker:   breaker,
		metrics:   collector,
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
	}

	logrus.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"provider":    provider,
		"ticker":      cfg.DefaultTicker,
		"rate_limit":  cfg.RateLimitRPS,
		"burst":       cfg.RateLimitBurst,
		"buyback":     cfg.BuyBackMode,
		"min_diff":    cfg.MinimumDifferential != nil,
		"credentials": cfg.CredentialSource,
	}).Info("Server initialized")

	return s
}

// Router registers the API endpoints
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.Handle("/pull", s.instrument("/pull", s.limited(s.handlePull))).Methods(http.MethodGet)
	r.Handle("/pull/table", s.instrument("/pull/table", s.limited(s.handlePullTable))).Methods(http.MethodGet)
	r.Handle("/health", s.instrument("/health", http.HandlerFunc(s.handleHealth))).Methods(http.MethodGet)
	r.Handle("/status", s.instrument("/status", http.HandlerFunc(s.handleStatus))).Methods(http.MethodGet)
	r.Handle("/circuit", s.instrument("/circuit", http.HandlerFunc(s.handleCircuitStatus))).Methods(http.MethodGet, http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Wrapping the router tags 404 and 405 responses too
	return requestIDMiddleware(r)
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}

	logrus.Info("Server stopped")
}

// handlePull serves the hunt as JSON
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	req, err := parsePullQuery(r, s.config.DefaultTicker)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	report, err := s.runner.Run(ctx, req)
	if err != nil {
		jsonError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := render.JSON(w, report); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}

// handlePullTable serves the hunt as a plain-text table
func (s *Server) handlePullTable(w http.ResponseWriter, r *http.Request) {
	req, err := parsePullQuery(r, s.config.DefaultTicker)
	if err != nil {
		textError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	report, err := s.runner.Run(ctx, req)
	if err != nil {
		textError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := render.Table(w, report); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	policy := s.config.Policy()
	status := map[string]interface{}{
		"status":   "operational",
		"uptime":   time.Since(startTime).String(),
		"version":  version,
		"provider": s.provider,
		"ticker":   s.config.DefaultTicker,
		"configuration": map[string]interface{}{
			"spread_max_abs":             policy.Gates.SpreadMaxAbsolute,
			"spread_max_frac":            policy.Gates.SpreadMaxFraction,
			"extrinsic_capture_fraction": policy.ExtrinsicCaptureFraction,
			"min_differential":           policy.Gates.MinimumDifferential,
			"buyback_mode":               policy.BuyBack,
			"rate_limit_rps":             s.config.RateLimitRPS,
		},
	}

	if s.breaker != nil {
		status["circuit_state"] = s.breaker.GetState().String()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and controlling the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		jsonError(w, http.StatusServiceUnavailable, "Circuit breaker not enabled")
		return
	}

	var message string
	if r.Method == http.MethodPost {
		action := r.URL.Query().Get("action")
		if action != "reset" {
			jsonError(w, http.StatusBadRequest, "Unknown action "+strconv.Quote(action))
			return
		}
		s.breaker.Reset()
		message = "Circuit breaker reset"
	}

	response := map[string]interface{}{
		"breaker": s.breaker.Snapshot(),
	}
	if message != "" {
		response["message"] = message
	}
	writeJSON(w, http.StatusOK, response)
}

// statusFor maps a hunt error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, fetch.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, circuitbreaker.ErrOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
