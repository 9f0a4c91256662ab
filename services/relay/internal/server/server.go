package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"interviewprep/internal/util"
	"interviewprep/pkg/queue"
	"interviewprep/services/relay/internal/app"
)

// Server exposes health and delivery status for the relay.
type Server struct {
	app    *app.App
	router chi.Router
}

// New constructs the server with routes configured.
func New(a *app.App) *Server {
	r := chi.NewRouter()
	s := &Server{app: a, router: r}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/deliveries/{jobID}", s.getDelivery)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "not found", "NOT_FOUND")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("relay", util.WithSecurityHeaders(s.router)))
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	d, ok, err := s.app.Delivery(r.Context(), jobID)
	switch {
	case err != nil:
		util.LoggerFromContext(r.Context()).Error("delivery_lookup_failed", "job_id", jobID, "err", err)
		fail(w, r, http.StatusInternalServerError, "internal error", "INTERNAL")
	case !ok:
		fail(w, r, http.StatusNotFound, "delivery not found", "DELIVERY_NOT_FOUND")
	default:
		reply(w, http.StatusOK, deliveryView{Delivery: d, Terminal: d.Status == queue.StatusDelivered || d.Status == queue.StatusFailed})
	}
}

type deliveryView struct {
	queue.Delivery
	Terminal bool `json:"terminal"`
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func fail(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	reply(w, status, errorBody{Error: msg, Code: code, RequestID: util.RequestIDFromContext(r.Context())})
}

func reply(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
