package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"interviewprep/internal/ratelimit"
	"interviewprep/internal/usertoken"
	"interviewprep/internal/util"
	"interviewprep/internal/webhooksig"
	"interviewprep/pkg/domain"
	"interviewprep/services/api/internal/app"
	"interviewprep/services/api/internal/security"
)

const maxBodyBytes = 1 << 20

// TokenVerifier resolves the caller of a user request.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Identity, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier TokenVerifier

	WebhookPublicKeyPath    string
	WebhookVerifyPublicKeys map[string]string
	WebhookKeyID            string
	WebhookAudience         string
	WebhookIssuers          []string
	WebhookLeeway           time.Duration

	RedisAddr          string
	RedisPassword      string
	DispatchRateLimit  int
	DispatchRateWindow time.Duration
	AlertPrefix        string
	TrustedProxies     []string
}

// Server exposes HTTP endpoints for the interview-prep API.
type Server struct {
	app             *app.App
	tokenVerifier   TokenVerifier
	webhookVerify   *webhooksig.Verifier
	dispatchLimiter *ratelimit.Limiter
	alerter         *security.AuditAlerter
	trustedProxies  *util.TrustedProxies
	router          chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	audience := strings.TrimSpace(cfg.WebhookAudience)
	if audience == "" {
		audience = "api"
	}
	issuers := cfg.WebhookIssuers
	if len(issuers) == 0 {
		issuers = []string{"relay"}
	}
	verifier, err := webhooksig.NewVerifier(webhooksig.VerifierOptions{
		PublicKeyPath:      strings.TrimSpace(cfg.WebhookPublicKeyPath),
		VerifyPublicKeyMap: cfg.WebhookVerifyPublicKeys,
		DefaultKeyID:       cfg.WebhookKeyID,
		Audience:           audience,
		AllowedIssuers:     issuers,
		Leeway:             cfg.WebhookLeeway,
	})
	if err != nil {
		return nil, fmt.Errorf("init webhook verifier: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		webhookVerify:  verifier,
		alerter:        security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, cfg.AlertPrefix),
		trustedProxies: trusted,
	}
	if cfg.DispatchRateLimit > 0 {
		window := cfg.DispatchRateWindow
		if window <= 0 {
			window = time.Minute
		}
		limiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, "interviewprep:api:ratelimit:dispatch", cfg.DispatchRateLimit, window)
		if err != nil {
			return nil, fmt.Errorf("init dispatch limiter: %w", err)
		}
		s.dispatchLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.router))))
}

// Close releases Redis clients held by the limiter and alerter.
func (s *Server) Close() error {
	return errors.Join(s.dispatchLimiter.Close(), s.alerter.Close())
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { notFound(w, "not found") })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { methodNotAllowed(w) })

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/generation", s.handleGenerationWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.withUser)

		// jobs
		r.Post("/jobs", s.handleDispatch)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/active", s.handleActiveJobs)
		r.Post("/jobs/cancel", s.handleCancelJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/tokens/balance", s.handleBalance)

		// interviews and versions
		r.Post("/interviews", s.handleCreateInterview)
		r.Get("/interviews", s.handleListInterviews)
		r.Get("/interviews/{id}", s.handleGetInterview)
		r.Put("/interviews/{id}", s.handleUpdateInterview)
		r.Delete("/interviews/{id}", s.handleDeleteInterview)
		r.Get("/interviews/{id}/versions", s.handleListVersions)
		r.Get("/versions/{id}", s.handleGetVersion)
		r.Put("/versions/{id}/default", s.handleSetDefaultVersion)

		// reports
		r.Post("/reports", s.handleCreateReport)
		r.Get("/reports", s.handleListReports)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/transactions", s.handleAdminTransactions)
			r.Post("/tokens/grant", s.handleAdminGrant)
			r.Get("/interviews/{id}/versions", s.handleAdminVersions)
			r.Get("/reports", s.handleAdminListReports)
			r.Get("/reports/export", s.handleAdminExportReports)
			r.Get("/reports/{id}", s.handleAdminGetReport)
			r.Patch("/reports/{id}", s.handleAdminUpdateReport)
			r.Post("/reports/{id}/refund", s.handleAdminRefundItem)
			r.Get("/jobs/{id}/raw-output", s.handleAdminRawOutput)
		})
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityContextKey struct{}

func identityFrom(r *http.Request) usertoken.Identity {
	id, _ := r.Context().Value(identityContextKey{}).(usertoken.Identity)
	return id
}

func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.Verify(r.Context(), token)
		if err != nil {
			s.audit(r, security.EventUserAuthorize, security.OutcomeFail, s.clientIP(r))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", identity.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if domain.UserRole(identityFrom(r).Role) != domain.RoleAdmin {
			s.audit(r, security.EventAdminAuthorize, security.OutcomeFail, identityFrom(r).UserID)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

// audit counts a security event and logs when its threshold is reached.
func (s *Server) audit(r *http.Request, event, outcome, source string) {
	logger := util.LoggerFromContext(r.Context())
	res, err := s.alerter.Observe(r.Context(), event, outcome, source)
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if res.Triggered {
		logger.Warn("security_alert",
			"event", event,
			"outcome", outcome,
			"source", source,
			"count", res.Count,
			"threshold", res.Threshold,
			"window", res.Window.String(),
		)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForAPI(status, msg),
		RequestID: requestID(w),
	})
}

func requestID(w http.ResponseWriter) string {
	return strings.TrimSpace(w.Header().Get("X-Request-Id"))
}

type insufficientTokensResponse struct {
	Error     string      `json:"error"`
	Code      string      `json:"code"`
	Required  json.Number `json:"required"`
	Available json.Number `json:"available"`
	RequestID string      `json:"requestId,omitempty"`
}

type activeJobResponse struct {
	Error     string     `json:"error"`
	Code      string     `json:"code"`
	ActiveJob domain.Job `json:"activeJob"`
	RequestID string     `json:"requestId,omitempty"`
}

// writeAppError maps app errors onto HTTP responses.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *app.InsufficientTokensError
	var active *app.ActiveJobError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, insufficientTokensResponse{
			Error:     "INSUFFICIENT_TOKENS",
			Code:      "INSUFFICIENT_TOKENS",
			Required:  json.Number(insufficient.Required.String()),
			Available: json.Number(insufficient.Available.String()),
			RequestID: requestID(w),
		})
	case errors.As(err, &active):
		writeJSON(w, http.StatusConflict, activeJobResponse{
			Error:     "job already active",
			Code:      "JOB_ACTIVE_EXISTS",
			ActiveJob: active.Job,
			RequestID: requestID(w),
		})
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInterviewNotFound):
		notFound(w, app.ErrInterviewNotFound.Error())
	case errors.Is(err, app.ErrVersionNotFound):
		notFound(w, app.ErrVersionNotFound.Error())
	case errors.Is(err, app.ErrJobNotFound):
		notFound(w, app.ErrJobNotFound.Error())
	case errors.Is(err, app.ErrReportNotFound):
		notFound(w, app.ErrReportNotFound.Error())
	case errors.Is(err, app.ErrReportItemNotFound):
		notFound(w, app.ErrReportItemNotFound.Error())
	case errors.Is(err, app.ErrAlreadyRefunded):
		writeError(w, http.StatusConflict, app.ErrAlreadyRefunded.Error())
	case errors.Is(err, app.ErrJobNotCancellable):
		writeError(w, http.StatusConflict, app.ErrJobNotCancellable.Error())
	case errors.Is(err, app.ErrArchiveDisabled):
		writeError(w, http.StatusServiceUnavailable, app.ErrArchiveDisabled.Error())
	case errors.Is(err, app.ErrEnqueueFailed):
		writeError(w, http.StatusInternalServerError, app.ErrEnqueueFailed.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForAPI(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized", message == "invalid signature":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "AUTH_FORBIDDEN"
	case message == "rate limit exceeded":
		return "RATE_LIMITED"
	case message == "interview not found":
		return "INTERVIEW_NOT_FOUND"
	case message == "qa version not found":
		return "QA_VERSION_NOT_FOUND"
	case message == "job not found":
		return "JOB_NOT_FOUND"
	case message == "job is no longer queued":
		return "JOB_NOT_CANCELLABLE"
	case message == "failed to enqueue job":
		return "JOB_ENQUEUE_FAILED"
	case message == "report not found", message == "report item not found":
		return "REPORT_NOT_FOUND"
	case message == "report item already refunded":
		return "REPORT_ALREADY_REFUNDED"
	case message == "delivery does not match job":
		return "WEBHOOK_PAYLOAD_MISMATCH"
	case message == "raw output archive not configured":
		return "ARCHIVE_DISABLED"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case strings.HasPrefix(message, "invalid input"):
		return "REQUEST_INVALID"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "AUTH_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
