package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/klubi/reagent/internal/llm"
	"github.com/klubi/reagent/internal/store"
	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeJSON serialises data as JSON and writes it to the response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes a JSON error envelope to the response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinels to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, store.ErrAlreadyExists):
		s.writeError(w, http.StatusConflict, "run already exists")
	case errors.Is(err, store.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	pinger, ok := s.backend.(llm.Pinger)
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := pinger.Ping(ctx); err != nil {
		s.logger.Warn("backend health check failed", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"backend": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": "ok"})
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var run v1.Run
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if run.Kind != "" && run.Kind != v1.KindRun {
		s.writeError(w, http.StatusBadRequest, "unsupported kind "+run.Kind)
		return
	}
	if strings.TrimSpace(run.Spec.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "spec.query is required")
		return
	}

	// Clients never set status.
	run.Status = v1.RunStatus{}
	if err := s.runs.Create(&run); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.logger.Info("run submitted", zap.String("run", run.Metadata.Name))
	s.writeJSON(w, http.StatusCreated, &run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(mux.Vars(r)["name"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleListRuns lists runs, optionally filtered by ?phase=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.List()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	phase := r.URL.Query().Get("phase")
	result := make([]*v1.Run, 0, len(runs))
	for _, run := range runs {
		if phase != "" && !strings.EqualFold(string(run.Status.Phase), phase) {
			continue
		}
		result = append(result, run)
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.runs.Delete(name); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.logger.Info("run deleted", zap.String("run", name))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
