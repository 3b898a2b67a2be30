// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/avfield/kittifetch/pkg/kittiraw"
)

// FetchRequest is the request body for starting a fetch run.
// Note: the target root is NOT configurable via API for security reasons.
// The server always fetches into its configured DataRoot.
type FetchRequest struct {
	Max    int      `json:"max,omitempty"`
	Dates  []string `json:"dates,omitempty"`
	DryRun bool     `json:"dryRun,omitempty"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	DataRoot  string `json:"dataRoot"`
	Transport string `json:"transport"`
	BaseURL   string `json:"baseUrl"`
	Endpoint  string `json:"endpoint,omitempty"`
	Retries   int    `json:"retries"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": serverVersion,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStartFetch starts a new fetch run.
func (s *Server) handleStartFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req.Dates = cleanDates(req.Dates)
	if detail := checkDates(req.Dates); detail != "" {
		writeError(w, http.StatusBadRequest, "Unknown capture date", detail)
		return
	}

	// If dry-run, return the plan
	if req.DryRun {
		s.handlePlanInternal(w, req)
		return
	}

	// Create and start the job (or return existing if one is active)
	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create job", err.Error())
		return
	}

	// Return appropriate status
	if wasExisting {
		// A run is already walking the root - return it with 200
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Fetch already in progress",
		})
	} else {
		// New job created
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handlePlan returns a fetch plan without starting the run.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	req.Dates = cleanDates(req.Dates)
	if detail := checkDates(req.Dates); detail != "" {
		writeError(w, http.StatusBadRequest, "Unknown capture date", detail)
		return
	}

	req.DryRun = true
	s.handlePlanInternal(w, req)
}

func (s *Server) handlePlanInternal(w http.ResponseWriter, req FetchRequest) {
	// The plan only derives URLs and checks markers; nothing is fetched.
	job := kittiraw.Job{
		Root:       s.config.DataRoot, // Server-controlled, not from request
		MaxEntries: req.Max,
		Dates:      req.Dates,
	}
	settings := kittiraw.Settings{
		BaseURL: s.config.BaseURL,
	}

	plan, err := kittiraw.PlanRun(job, settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build plan", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handleCatalog returns the full ordered catalog with completion status.
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	job := kittiraw.Job{
		Root:       s.config.DataRoot,
		MaxEntries: len(kittiraw.Catalog()),
	}
	settings := kittiraw.Settings{
		BaseURL: s.config.BaseURL,
	}

	plan, err := kittiraw.PlanRun(job, settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read catalog state", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"root":     plan.Root,
		"dates":    kittiraw.CatalogDates(),
		"entries":  plan.Items,
		"count":    len(plan.Items),
		"complete": plan.Complete,
		"pending":  plan.Pending,
	})
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	resp := SettingsResponse{
		DataRoot:  s.config.DataRoot,
		Transport: s.config.Transport,
		BaseURL:   s.config.BaseURL,
		Endpoint:  s.config.Endpoint,
		Retries:   s.config.Retries,
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateSettings updates settings.
// Note: the data root cannot be changed via API for security.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transport *string `json:"transport,omitempty"`
		BaseURL   *string `json:"baseUrl,omitempty"`
		Endpoint  *string `json:"endpoint,omitempty"`
		Retries   *int    `json:"retries,omitempty"`
		// Note: DataRoot is NOT updatable via API for security
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	// Update config (only safe fields)
	if req.Transport != nil && *req.Transport != "" {
		if *req.Transport != kittiraw.TransportHTTPS && *req.Transport != kittiraw.TransportS3 {
			writeError(w, http.StatusBadRequest, "Unknown transport", *req.Transport)
			return
		}
		s.config.Transport = *req.Transport
	}
	if req.BaseURL != nil && *req.BaseURL != "" {
		s.config.BaseURL = *req.BaseURL
	}
	if req.Endpoint != nil {
		s.config.Endpoint = *req.Endpoint
	}
	if req.Retries != nil && *req.Retries >= 0 {
		s.config.Retries = *req.Retries
	}

	// Also update job manager config
	s.jobs.SetConfig(s.config)

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

// cleanDates trims whitespace and drops empty elements.
func cleanDates(dates []string) []string {
	var out []string
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// checkDates returns a detail message naming the first unknown date, or "".
func checkDates(dates []string) string {
	for _, d := range dates {
		if !kittiraw.IsCatalogDate(d) {
			return d + " is not a capture date; valid: " + strings.Join(kittiraw.CatalogDates(), ", ")
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
