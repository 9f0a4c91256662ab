package server

import (
	"net/http"

	"interviewprep/services/api/internal/app"
)

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req app.CreateReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.CreateReport(r.Context(), identityFrom(r).UserID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, total, err := s.app.ListReports(r.Context(), identityFrom(r).UserID, queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": reports,
		"count": len(reports),
		"total": total,
	})
}
