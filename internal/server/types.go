package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/runs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultStreamInterval is how often the websocket pushes progress.
const DefaultStreamInterval = 500 * time.Millisecond

// Launcher turns a start request into a run configuration.
type Launcher func(req StartRunRequest) (pipeline.Config, error)

// Server holds the HTTP server state and dependencies.
type Server struct {
	registry       *runs.Registry
	launch         Launcher
	baseCtx        context.Context
	corsOrigin     string
	rateLimiter    *RateLimiter
	streamInterval time.Duration
	version        string
}

// Config holds server configuration.
type Config struct {
	Host       string
	Port       int
	CORSOrigin string

	Registry *runs.Registry
	// Launch enables POST /runs; nil leaves the server read-and-control only.
	Launch Launcher
	// BaseContext bounds runs started over HTTP. Defaults to Background.
	BaseContext context.Context

	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int

	StreamInterval time.Duration
	Version        string
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Time       string `json:"time"`
	ActiveRuns int    `json:"active_runs"`
}

// RunsResponse lists registered runs.
type RunsResponse struct {
	Runs  []runs.Info `json:"runs"`
	Count int         `json:"count"`
}

// StartRunRequest overrides the configured source and output for one run.
type StartRunRequest struct {
	RunID       string `json:"run_id,omitempty"`
	SourcePath  string `json:"source_path"`
	SourceKind  string `json:"source_kind,omitempty"`
	OutputDir   string `json:"output_dir,omitempty"`
	RegionsFile string `json:"regions_file,omitempty"`
}

// StartRunResponse acknowledges a started run.
type StartRunResponse struct {
	RunID    string            `json:"run_id"`
	Progress pipeline.Snapshot `json:"progress"`
}

// ScaleRequest changes a stage's worker target by Delta.
type ScaleRequest struct {
	Stage string `json:"stage"`
	Delta int    `json:"delta"`
}

// ScaleResponse reports the new target.
type ScaleResponse struct {
	Stage         string `json:"stage"`
	TargetWorkers int    `json:"target_workers"`
}

// StopResponse acknowledges a stop request.
type StopResponse struct {
	RunID    string `json:"run_id"`
	Stopping bool   `json:"stopping"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a control server over cfg.Registry.
func NewServer(cfg Config) *Server {
	registry := cfg.Registry
	if registry == nil {
		registry = runs.NewRegistry(nil)
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	interval := cfg.StreamInterval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	var limiter *RateLimiter
	if cfg.RequestsPerMinute > 0 || cfg.RequestsPerHour > 0 || cfg.RequestsPerDay > 0 {
		limiter = NewRateLimiter(cfg.RequestsPerMinute, cfg.RequestsPerHour, cfg.RequestsPerDay)
	}

	return &Server{
		registry:       registry,
		launch:         cfg.Launch,
		baseCtx:        base,
		corsOrigin:     cfg.CORSOrigin,
		rateLimiter:    limiter,
		streamInterval: interval,
		version:        cfg.Version,
	}
}

// Registry returns the run registry the server controls.
func (s *Server) Registry() *runs.Registry { return s.registry }

// SetupRoutes configures the HTTP routes. Control endpoints are rate
// limited; reads and the metrics endpoint are not.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/runs", s.corsMiddleware(s.runsHandler))
	mux.HandleFunc("/runs/{id}/progress", s.corsMiddleware(s.progressHandler))
	mux.HandleFunc("/runs/{id}/ws", s.progressWebSocketHandler)
	mux.HandleFunc("/runs/{id}/scale", s.corsMiddleware(s.rateLimitMiddleware(s.scaleHandler)))
	mux.HandleFunc("/runs/{id}/stop", s.corsMiddleware(s.rateLimitMiddleware(s.stopHandler)))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
