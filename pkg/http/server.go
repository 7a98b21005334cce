package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"coachcall-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// MetricsProvider exposes engine statistics for the status and health
// endpoints
type MetricsProvider interface {
	GetActiveCallCount() int
	GetMetrics() map[string]interface{}
}

// HealthChecker verifies a dependency for the readiness endpoint
type HealthChecker interface {
	Health() error
}

// Config holds the HTTP server configuration
type Config struct {
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	EnableMetrics bool
}

// DefaultConfig returns the default HTTP server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:          8080,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
		EnableMetrics: true,
	}
}

// Server is the HTTP server exposing the coaching API, health checks, and
// metrics
type Server struct {
	config          *Config
	logger          *logrus.Logger
	httpServer      *http.Server
	mux             *http.ServeMux
	metricsProvider MetricsProvider
	dbChecker       HealthChecker
	wsHub           *CoachingHub
	startTime       time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, config *Config, metricsProvider MetricsProvider) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	server := &Server{
		config:          config,
		logger:          logger,
		metricsProvider: metricsProvider,
		startTime:       time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.healthHandler)
	mux.HandleFunc("/health/live", server.livenessHandler)
	mux.HandleFunc("/health/ready", server.readinessHandler)
	mux.HandleFunc("/status", server.statusHandler)

	if config.EnableMetrics {
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// RegisterHandler adds a custom handler to the server
func (s *Server) RegisterHandler(path string, handler http.HandlerFunc) {
	s.mux.HandleFunc(path, handler)
	s.logger.WithField("path", path).Debug("Registered HTTP handler")
}

// SetDatabaseChecker sets the database dependency checked by readiness
func (s *Server) SetDatabaseChecker(checker HealthChecker) {
	s.dbChecker = checker
}

// SetWebSocketHub sets the coaching hub and registers its endpoint
func (s *Server) SetWebSocketHub(hub *CoachingHub) {
	s.wsHub = hub
	s.mux.HandleFunc("/ws/coaching", hub.ServeWS)
	s.logger.Info("Coaching WebSocket endpoint registered at /ws/coaching")
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthStatus represents the health of the service
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains runtime resource information
type SystemInfo struct {
	GoRoutines  int    `json:"goroutines"`
	MemoryMB    uint64 `json:"memory_mb"`
	ActiveCalls int    `json:"active_calls"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if s.dbChecker != nil {
		if err := s.dbChecker.Health(); err != nil {
			health.Checks["database"] = CheckResult{Status: "unhealthy", Message: err.Error()}
			health.Status = "unhealthy"
		} else {
			health.Checks["database"] = CheckResult{Status: "healthy"}
		}
	}

	if s.wsHub != nil && s.wsHub.IsRunning() {
		health.Checks["websocket"] = CheckResult{Status: "healthy"}
	} else {
		health.Checks["websocket"] = CheckResult{Status: "degraded", Message: "coaching hub not running"}
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	health.System.GoRoutines = runtime.NumGoroutine()
	health.System.MemoryMB = memStats.Alloc / 1024 / 1024
	if s.metricsProvider != nil {
		health.System.ActiveCalls = s.metricsProvider.GetActiveCallCount()
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.dbChecker != nil {
		if err := s.dbChecker.Health(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.metricsProvider != nil {
		status["engine"] = s.metricsProvider.GetMetrics()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
