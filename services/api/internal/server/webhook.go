package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"interviewprep/internal/util"
	"interviewprep/services/api/internal/app"
	"interviewprep/services/api/internal/security"
)

// handleGenerationWebhook runs one relay delivery. Only 5xx responses are
// retried by the relay.
func (s *Server) handleGenerationWebhook(w http.ResponseWriter, r *http.Request) {
	logger := util.LoggerFromContext(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	claims, err := s.webhookVerify.VerifyRequest(r, body)
	if err != nil {
		logger.Warn("webhook_signature_rejected", "err", err)
		s.audit(r, security.EventWebhookVerify, security.OutcomeFail, s.clientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	var d app.Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	d.JobID = strings.TrimSpace(d.JobID)
	if d.JobID == "" || d.JobID != claims.Subject {
		s.audit(r, security.EventWebhookVerify, security.OutcomeFail, s.clientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	res, err := s.app.HandleDelivery(r.Context(), d)
	switch {
	case errors.Is(err, app.ErrPayloadMismatch):
		logger.Warn("webhook_payload_mismatch", "job_id", d.JobID, "user_id", d.UserID)
		writeError(w, http.StatusUnprocessableEntity, app.ErrPayloadMismatch.Error())
		return
	case err != nil:
		logger.Error("webhook_delivery_failed", "job_id", d.JobID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
