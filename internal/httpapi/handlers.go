package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/internal/config"
	"github.com/chenapple/thesaurus-management/internal/service"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

type startAnalysisRequest struct {
	Terms      []analysis.SearchTerm `json:"terms"`
	TermsFile  string                `json:"terms_file"`
	TargetACOS float64               `json:"target_acos"`
	Source     string                `json:"source"`
}

// resolveTermsFile maps a requested report file to a path inside dir
func resolveTermsFile(dir, name string) (string, error) {
	if dir == "" {
		return "", errors.New("terms_file is not enabled on this server")
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("terms_file must be inside the data directory")
	}
	return path, nil
}

func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := s.runner.Sessions(r.Context(), limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	case http.MethodPost:
		var req startAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		terms := req.Terms
		if len(terms) == 0 && req.TermsFile != "" {
			path, err := resolveTermsFile(s.termsDir, req.TermsFile)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			loaded, err := service.LoadTerms(path)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			terms = loaded
			if req.Source == "" {
				req.Source = req.TermsFile
			}
		}
		if len(terms) == 0 {
			writeError(w, http.StatusBadRequest, "terms or terms_file is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		id := uuid.NewString()
		s.background(func(ctx context.Context) error {
			_, err := s.runner.Analyze(ctx, service.AnalyzeRequest{
				ID:         id,
				Terms:      terms,
				Source:     req.Source,
				TargetACOS: req.TargetACOS,
			})
			return err
		})
		log.Info("Started analysis %s from %s: %d records", id, req.Source, len(terms))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": id,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snap, ok := s.runner.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no analysis has run yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": s.runner.Stop(),
	})
}

// handleSession serves /api/analyses/{id}, /api/analyses/{id}/retry and /api/analyses/{id}/resume
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/analyses/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	switch action {
	case "":
		s.handleSessionDetail(w, r, id)
	case "retry", "resume":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		// fail fast on unknown sessions before going async
		if _, err := s.runner.Session(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		s.background(func(ctx context.Context) error {
			var err error
			if action == "retry" {
				_, err = s.runner.Retry(ctx, id, nil)
			} else {
				_, err = s.runner.Analyze(ctx, service.AnalyzeRequest{ResumeID: id})
			}
			return err
		})
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": id,
			"action":     action,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		detail, err := s.runner.Session(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		// input records are large and already known to the caller
		detail.Session.Terms = nil
		writeJSON(w, http.StatusOK, detail)
	case http.MethodDelete:
		if err := s.runner.DeleteSession(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type runAgentRequest struct {
	Terms      []analysis.SearchTerm `json:"terms"`
	TargetACOS float64               `json:"target_acos"`
}

// handleAgent runs one analyst role synchronously: POST /api/agents/{role}
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	role := analysis.Role(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agents/"), "/"))
	if role == "" {
		writeError(w, http.StatusBadRequest, "missing role")
		return
	}

	var req runAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	raw, err := s.runner.RunAgent(r.Context(), role, req.Terms, req.TargetACOS)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":   role,
		"result": raw,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			if errors.Is(err, config.ErrInvalidSettings) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeServiceError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeServiceError maps runner errors to status codes
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case service.IsErrorType(err, service.ErrNotFound):
		status = http.StatusNotFound
	case service.IsErrorType(err, service.ErrValidation),
		service.IsErrorType(err, service.ErrInput),
		analysis.IsErrorType(err, analysis.ErrValidation):
		status = http.StatusBadRequest
	case service.IsErrorType(err, service.ErrBusy):
		status = http.StatusConflict
	case analysis.IsErrorType(err, analysis.ErrProvider):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{
		"error":  err.Error(),
		"advice": service.NewDefaultErrorHandler().GetAdvice(err),
	})
}
