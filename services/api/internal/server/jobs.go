package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"interviewprep/services/api/internal/app"
	"interviewprep/services/api/internal/security"
)

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	user := identityFrom(r)
	if !s.allowDispatch(w, r, user.UserID) {
		return
	}
	var req app.DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Dispatch(r.Context(), user.UserID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) allowDispatch(w http.ResponseWriter, r *http.Request, userID string) bool {
	if s.dispatchLimiter == nil {
		return true
	}
	decision := s.dispatchLimiter.Allow(r.Context(), userID)
	if decision.Allowed {
		return true
	}
	s.audit(r, security.EventJobDispatch, security.OutcomeRateLimited, userID)
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.app.RecentJobs(r.Context(), identityFrom(r).UserID, queryInt(r, "limit", 20))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.app.ActiveJobs(r.Context(), identityFrom(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.app.GetJob(r.Context(), identityFrom(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type cancelRequest struct {
	JobID string `json:"jobId"`
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := strings.TrimSpace(req.JobID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid input: jobId is required")
		return
	}
	if err := s.app.CancelJob(r.Context(), identityFrom(r).UserID, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"jobId": id, "status": app.StatusCancelled})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.app.Balance(r.Context(), identityFrom(r).UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}
