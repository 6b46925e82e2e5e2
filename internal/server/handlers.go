package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/endzone/internal/pipeline"
	"github.com/MeKo-Tech/endzone/internal/runs"
)

// maxBodyBytes caps control request bodies.
const maxBodyBytes = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		ActiveRuns: s.registry.Active(),
	})
}

// runsHandler lists runs on GET and starts one on POST.
func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list := s.registry.List()
		s.writeJSON(w, http.StatusOK, RunsResponse{Runs: list, Count: len(list)})
	case http.MethodPost:
		s.rateLimitMiddleware(s.startRunHandler)(w, r)
	default:
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) startRunHandler(w http.ResponseWriter, r *http.Request) {
	if s.launch == nil {
		s.writeErrorResponse(w, "starting runs is not enabled on this server", http.StatusNotImplemented)
		return
	}

	var req StartRunRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SourcePath == "" {
		s.writeErrorResponse(w, "source_path is required", http.StatusBadRequest)
		return
	}

	cfg, err := s.launch(req)
	if err != nil {
		runControlTotal.WithLabelValues("start", "rejected").Inc()
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.registry.Start(s.baseCtx, cfg)
	if err != nil {
		runControlTotal.WithLabelValues("start", "error").Inc()
		s.writeRunError(w, err)
		return
	}
	runControlTotal.WithLabelValues("start", "ok").Inc()
	slog.Info("run started over HTTP", "run_id", m.RunID(), "source", req.SourcePath)
	s.writeJSON(w, http.StatusAccepted, StartRunResponse{RunID: m.RunID(), Progress: m.Progress()})
}

// progressHandler returns the run's current snapshot.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m.Progress())
}

// scaleHandler grows or shrinks a stage's worker pool.
func (s *Server) scaleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ScaleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	m, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	target, err := m.ScaleWorkers(req.Stage, req.Delta)
	if err != nil {
		runControlTotal.WithLabelValues("scale", "error").Inc()
		s.writeRunError(w, err)
		return
	}
	runControlTotal.WithLabelValues("scale", "ok").Inc()
	s.writeJSON(w, http.StatusOK, ScaleResponse{Stage: req.Stage, TargetWorkers: target})
}

// stopHandler asks a run to drain and finish.
func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if err := s.registry.Stop(id); err != nil {
		s.writeRunError(w, err)
		return
	}
	runControlTotal.WithLabelValues("stop", "ok").Inc()
	s.writeJSON(w, http.StatusAccepted, StopResponse{RunID: id, Stopping: true})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeRunError maps registry and pipeline errors onto status codes.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runs.ErrRunActive),
		errors.Is(err, pipeline.ErrPoolSealed),
		errors.Is(err, pipeline.ErrNotStarted):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrUnknownStage):
		status = http.StatusBadRequest
	}
	s.writeErrorResponse(w, err.Error(), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
