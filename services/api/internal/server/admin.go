package server

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/store"
	"interviewprep/services/api/internal/app"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleAdminTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := s.app.ListTransactions(r.Context(), store.TransactionFilter{
		UserID: strings.TrimSpace(q.Get("userId")),
		Kind:   domain.TransactionKind(strings.TrimSpace(q.Get("kind"))),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": txs,
		"count": len(txs),
	})
}

func (s *Server) handleAdminGrant(w http.ResponseWriter, r *http.Request) {
	var req app.GrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	applied, err := s.app.GrantTokens(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	balance, err := s.app.Balance(r.Context(), req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("admin_grant", "admin_id", identityFrom(r).UserID, "target_user_id", req.UserID, "applied", applied)
	writeJSON(w, http.StatusOK, map[string]any{
		"applied": applied,
		"balance": balance,
	})
}

func (s *Server) handleAdminVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.app.AdminListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": versions,
		"count": len(versions),
	})
}

func (s *Server) handleAdminListReports(w http.ResponseWriter, r *http.Request) {
	reports, total, err := s.app.AdminListReports(r.Context(), store.ReportFilter{
		UserID: strings.TrimSpace(r.URL.Query().Get("userId")),
		Status: domain.ReportStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	})
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

func (s *Server) handleAdminGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.app.AdminGetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type reportStatusRequest struct {
	Status        domain.ReportStatus `json:"status"`
	AdminResponse string              `json:"adminResponse"`
}

func (s *Server) handleAdminUpdateReport(w http.ResponseWriter, r *http.Request) {
	var req reportStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.app.UpdateReportStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.AdminResponse)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type refundItemRequest struct {
	Kind     domain.ItemKind `json:"type"`
	Category string          `json:"category"`
	Index    *int            `json:"index"`
}

func (s *Server) handleAdminRefundItem(w http.ResponseWriter, r *http.Request) {
	var req refundItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Index == nil {
		writeError(w, http.StatusBadRequest, "invalid input: index is required")
		return
	}
	report, err := s.app.RefundReportItem(r.Context(), chi.URLParam(r, "id"), req.Kind, req.Category, *req.Index)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminExportReports(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	status := domain.ReportStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	if err := s.app.ExportReports(r.Context(), &buf, status); err != nil {
		writeAppError(w, r, err)
		return
	}
	filename := "reports-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleAdminRawOutput(w http.ResponseWriter, r *http.Request) {
	link, err := s.app.RawOutputURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}
