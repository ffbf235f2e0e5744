package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain error types onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigurationError
	var connErr *domain.ConnectivityError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &connErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// Jobs

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	configs, err := s.configs.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	names := make(map[string]string, len(configs))
	for _, cfg := range configs {
		names[cfg.ID] = cfg.Name
	}

	type view struct {
		domain.Job
		SourceName      string `json:"sourceName,omitempty"`
		DestinationName string `json:"destinationName,omitempty"`
	}
	out := make([]view, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, view{
			Job:             job,
			SourceName:      names[job.SourceConfigID],
			DestinationName: names[job.DestinationConfigID],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var job domain.Job
	if !decodeBody(w, r, &job) {
		return
	}
	if err := s.jobs.Create(r.Context(), &job, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var job domain.Job
	if !decodeBody(w, r, &job) {
		return
	}
	job.ID = chi.URLParam(r, "id")
	if err := s.jobs.Update(r.Context(), &job, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	execID, err := s.jobs.Trigger(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": execID})
}

// Restore

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var input usecase.RestoreInput
	if !decodeBody(w, r, &input) {
		return
	}
	execID, err := s.restore.Restore(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.audit.Record(domain.AuditExecute, "restore", execID, userID(r), input.ArtifactPath)
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": execID})
}

// Executions

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.store.ListExecutions()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sort.Slice(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
	// The list view stays light; logs are served per execution.
	for i := range execs {
		execs[i].Logs = nil
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.store.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("includeLogs") != "true" {
		exec.Logs = nil
	}
	writeJSON(w, http.StatusOK, exec)
}

// Adapter configs

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configs.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AdapterConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.configs.Create(r.Context(), &cfg, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.AdapterConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	cfg.ID = chi.URLParam(r, "id")
	if err := s.configs.Update(r.Context(), &cfg, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestConfig(w http.ResponseWriter, r *http.Request) {
	result, err := s.configs.Test(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Encryption profiles

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.configs.ListProfiles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Key material never leaves the server.
	type view struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"createdAt"`
	}
	out := make([]view, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, view{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	profile, err := s.configs.CreateProfile(r.Context(), body.Name, userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   profile.ID,
		"name": profile.Name,
	})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.configs.DeleteProfile(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// API keys

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.apikeys.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	key, raw, err := s.apikeys.Generate(r.Context(), body.Name, userID(r), body.ExpiresAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key": key,
		// Shown exactly once; only the hash is stored.
		"token": raw,
	})
}

func (s *Server) handleUpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.apikeys.SetEnabled(r.Context(), chi.URLParam(r, "id"), *body.Enabled, userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.apikeys.Delete(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audit

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.List()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sort.Slice(records, func(i, j int) bool { return records[i].At.After(records[j].At) })
	writeJSON(w, http.StatusOK, records)
}
