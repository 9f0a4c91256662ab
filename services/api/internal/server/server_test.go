package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"interviewprep/internal/testkeys"
	"interviewprep/internal/usertoken"
	"interviewprep/internal/webhooksig"
	"interviewprep/pkg/ai"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/notify"
	"interviewprep/pkg/queue"
	"interviewprep/pkg/store"
	"interviewprep/services/api/internal/app"
)

type staticVerifier map[string]usertoken.Identity

func (v staticVerifier) Verify(_ context.Context, token string) (usertoken.Identity, error) {
	id, ok := v[token]
	if !ok {
		return usertoken.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
}

func (g *scriptedGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out, nil
}

type harness struct {
	srv    *httptest.Server
	store  *store.MemoryStore
	gen    *scriptedGenerator
	redis  *miniredis.Miniredis
	signer *webhooksig.Signer
}

func newHarness(t *testing.T, dispatchLimit int) *harness {
	t.Helper()
	redis := miniredis.RunT(t)
	privatePath, publicPath := testkeys.WriteRSAKeyPairFiles(t, "relay")
	signer, err := webhooksig.NewSigner(webhooksig.SignerOptions{PrivateKeyPath: privatePath, Issuer: "relay"})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{Addr: redis.Addr(), Stream: "test:deliveries"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	h := &harness{store: store.NewMemoryStore(), gen: &scriptedGenerator{}, redis: redis, signer: signer}
	a, err := app.New(app.Config{
		Store:     h.store,
		Generator: h.gen,
		Retry:     ai.RetryPolicy{MaxAttempts: 1},
		Queue:     q,
		Notifier:  notify.LogNotifier{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{
		App: a,
		TokenVerifier: staticVerifier{
			"user-1-token": {UserID: "u1", Role: "user"},
			"user-2-token": {UserID: "u2", Role: "user"},
			"admin-token":  {UserID: "admin", Role: "admin"},
		},
		WebhookPublicKeyPath: publicPath,
		WebhookAudience:      "api",
		WebhookIssuers:       []string{"relay"},
		RedisAddr:            redis.Addr(),
		DispatchRateLimit:    dispatchLimit,
		DispatchRateWindow:   time.Minute,
		AlertPrefix:          "test:alerts",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	h.srv = httptest.NewServer(s.Router())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return h.send(t, req)
}

func (h *harness) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (h *harness) createInterview(t *testing.T, token string) string {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/interviews", token, map[string]string{
		"company":     "Acme",
		"position":    "Backend Engineer",
		"resume":      "Five years of Go services.",
		"coverLetter": "I like building reliable systems.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create interview: status %d body %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func (h *harness) dispatch(t *testing.T, token, interviewID string) (*http.Response, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodPost, "/jobs", token, map[string]any{
		"interviewId": interviewID,
		"type":        domain.JobQuestionsGenerated,
	})
}

func (h *harness) webhook(t *testing.T, payload []byte, signature string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/generation", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(webhooksig.Header, signature)
	}
	return h.send(t, req)
}

func (h *harness) deliver(t *testing.T, job domain.Job) (*http.Response, map[string]any) {
	t.Helper()
	payload, _ := json.Marshal(app.Delivery{JobID: job.ID, UserID: job.UserID, InterviewID: job.InterviewID})
	sig, err := h.signer.Sign("api", job.ID, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return h.webhook(t, payload, sig)
}

func (h *harness) job(t *testing.T, id string) domain.Job {
	t.Helper()
	job, ok, err := h.store.GetJob(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get job %s: ok=%v err=%v", id, ok, err)
	}
	return job
}

func validQuestionSet(t *testing.T) string {
	t.Helper()
	grid := make(map[string][]string, len(domain.Categories))
	for _, c := range domain.Categories {
		items := make([]string, domain.QuestionsPerCategory)
		for i := range items {
			items[i] = c + " question?"
		}
		grid[c] = items
	}
	data, err := json.Marshal(grid)
	if err != nil {
		t.Fatalf("marshal grid: %v", err)
	}
	return string(data)
}

func TestQuestionJobThroughWebhook(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")

	resp, body := h.dispatch(t, "user-1-token", interviewID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch: status %d body %v", resp.StatusCode, body)
	}
	jobID, _ := body["jobId"].(string)
	if jobID == "" || body["createdAt"] == nil {
		t.Fatalf("unexpected dispatch body: %v", body)
	}

	resp, body = h.dispatch(t, "user-1-token", interviewID)
	if resp.StatusCode != http.StatusConflict || body["code"] != "JOB_ACTIVE_EXISTS" {
		t.Fatalf("second dispatch: status %d body %v", resp.StatusCode, body)
	}
	if active, _ := body["activeJob"].(map[string]any); active["id"] != jobID || active["status"] != "queued" {
		t.Fatalf("unexpected activeJob: %v", body["activeJob"])
	}

	resp, body = h.do(t, http.MethodGet, "/jobs/active", "user-1-token", nil)
	if jobs, _ := body["jobs"].([]any); resp.StatusCode != http.StatusOK || len(jobs) != 1 {
		t.Fatalf("active jobs: status %d body %v", resp.StatusCode, body)
	}

	h.gen.responses = []string{validQuestionSet(t)}
	resp, body = h.deliver(t, h.job(t, jobID))
	if resp.StatusCode != http.StatusOK || body["status"] != "completed" || body["qaVersionId"] == "" {
		t.Fatalf("webhook: status %d body %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/jobs/"+jobID, "user-1-token", nil)
	job, _ := body["job"].(map[string]any)
	if resp.StatusCode != http.StatusOK || job["status"] != "completed" {
		t.Fatalf("get job: status %d body %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodGet, "/tokens/balance", "user-1-token", nil)
	if resp.StatusCode != http.StatusOK || body["balance"] != "7" {
		t.Fatalf("balance: status %d body %v", resp.StatusCode, body)
	}

	// relay redelivery is a no-op
	resp, body = h.deliver(t, h.job(t, jobID))
	if resp.StatusCode != http.StatusOK || body["status"] != "completed" {
		t.Fatalf("redelivery: status %d body %v", resp.StatusCode, body)
	}
	_, body = h.do(t, http.MethodGet, "/tokens/balance", "user-1-token", nil)
	if body["balance"] != "7" {
		t.Fatalf("redelivery changed balance: %v", body)
	}

	resp, body = h.do(t, http.MethodGet, "/jobs/"+jobID, "user-2-token", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "JOB_NOT_FOUND" {
		t.Fatalf("foreign job: status %d body %v", resp.StatusCode, body)
	}
}

func TestDispatchInsufficientTokensBody(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(2))
	interviewID := h.createInterview(t, "user-1-token")

	resp, body := h.dispatch(t, "user-1-token", interviewID)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["error"] != "INSUFFICIENT_TOKENS" || body["required"] != float64(3) || body["available"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
	_, body = h.do(t, http.MethodGet, "/jobs", "user-1-token", nil)
	if body["count"] != float64(0) {
		t.Fatalf("no job may be created: %v", body)
	}
}

func TestWebhookInvalidModelOutputRefunds(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")
	_, body := h.dispatch(t, "user-1-token", interviewID)
	jobID := body["jobId"].(string)

	h.gen.responses = []string{`{"general_personality": ["only one"]}`}
	resp, body := h.deliver(t, h.job(t, jobID))
	if resp.StatusCode != http.StatusOK || body["status"] != "failed" {
		t.Fatalf("webhook: status %d body %v", resp.StatusCode, body)
	}
	_, body = h.do(t, http.MethodGet, "/tokens/balance", "user-1-token", nil)
	if body["balance"] != "10" {
		t.Fatalf("balance not restored: %v", body)
	}
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")
	_, body := h.dispatch(t, "user-1-token", interviewID)
	job := h.job(t, body["jobId"].(string))

	payload, _ := json.Marshal(app.Delivery{JobID: job.ID, UserID: job.UserID, InterviewID: job.InterviewID})
	sig, err := h.signer.Sign("api", job.ID, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	otherSig, err := h.signer.Sign("api", "other-job", payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := bytes.Replace(payload, []byte(job.UserID), []byte("u2"), 1)

	cases := map[string]struct {
		payload []byte
		sig     string
	}{
		"missing":       {payload, ""},
		"garbage":       {payload, "not-a-jwt"},
		"tampered body": {tampered, sig},
		"other subject": {payload, otherSig},
	}
	for name, tc := range cases {
		resp, body := h.webhook(t, tc.payload, tc.sig)
		if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_TOKEN" {
			t.Fatalf("%s: status %d body %v", name, resp.StatusCode, body)
		}
	}
	if got := h.job(t, job.ID); got.Status != domain.JobQueued {
		t.Fatalf("rejected deliveries must not touch the job, status %s", got.Status)
	}

	var counters int
	for _, key := range h.redis.Keys() {
		if strings.HasPrefix(key, "test:alerts:webhook.verify:fail:") {
			counters++
		}
	}
	if counters != 1 {
		t.Fatalf("expected one alert counter for the caller, got %d", counters)
	}
}

func TestWebhookForCancelledJob(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")
	_, body := h.dispatch(t, "user-1-token", interviewID)
	job := h.job(t, body["jobId"].(string))

	resp, body := h.do(t, http.MethodPost, "/jobs/cancel", "user-1-token", map[string]string{"jobId": job.ID})
	if resp.StatusCode != http.StatusOK || body["status"] != "cancelled" {
		t.Fatalf("cancel: status %d body %v", resp.StatusCode, body)
	}
	resp, body = h.deliver(t, job)
	if resp.StatusCode != http.StatusOK || body["status"] != "cancelled" {
		t.Fatalf("webhook: status %d body %v", resp.StatusCode, body)
	}
	_, body = h.do(t, http.MethodGet, "/tokens/balance", "user-1-token", nil)
	if body["balance"] != "10" {
		t.Fatalf("cancelled job must not charge: %v", body)
	}
	resp, body = h.do(t, http.MethodPost, "/jobs/cancel", "user-1-token", map[string]string{"jobId": job.ID})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second cancel: status %d body %v", resp.StatusCode, body)
	}
}

func TestDispatchRateLimited(t *testing.T) {
	h := newHarness(t, 1)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")

	if resp, body := h.dispatch(t, "user-1-token", interviewID); resp.StatusCode != http.StatusOK {
		t.Fatalf("first dispatch: status %d body %v", resp.StatusCode, body)
	}
	resp, body := h.dispatch(t, "user-1-token", interviewID)
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "RATE_LIMITED" {
		t.Fatalf("second dispatch: status %d body %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestAuthAndAdminGuards(t *testing.T) {
	h := newHarness(t, 0)

	resp, body := h.do(t, http.MethodGet, "/jobs/active", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "AUTH_INVALID_TOKEN" || body["requestId"] == "" {
		t.Fatalf("anonymous: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodGet, "/jobs/active", "bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}
	resp, body = h.do(t, http.MethodPost, "/admin/tokens/grant", "user-1-token", map[string]any{"userId": "u1", "amount": "5"})
	if resp.StatusCode != http.StatusForbidden || body["code"] != "AUTH_FORBIDDEN" {
		t.Fatalf("non-admin grant: status %d body %v", resp.StatusCode, body)
	}

	grant := map[string]any{"userId": "u1", "amount": "5", "reason": "top up", "key": "pay-1"}
	resp, body = h.do(t, http.MethodPost, "/admin/tokens/grant", "admin-token", grant)
	if resp.StatusCode != http.StatusOK || body["applied"] != true || body["balance"] != "5" {
		t.Fatalf("grant: status %d body %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/admin/tokens/grant", "admin-token", grant)
	if resp.StatusCode != http.StatusOK || body["applied"] != false || body["balance"] != "5" {
		t.Fatalf("repeated grant: status %d body %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/admin/transactions?userId=u1", "admin-token", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("transactions: status %d body %v", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodDelete, "/jobs/active", "user-1-token", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("method: status %d", resp.StatusCode)
	}
}

func TestReportRefundEndpoints(t *testing.T) {
	h := newHarness(t, 0)
	h.store.SetBalance("u1", decimal.NewFromInt(10))
	interviewID := h.createInterview(t, "user-1-token")
	_, body := h.dispatch(t, "user-1-token", interviewID)
	h.gen.responses = []string{validQuestionSet(t)}
	_, body = h.deliver(t, h.job(t, body["jobId"].(string)))
	versionID := body["qaVersionId"].(string)

	resp, body := h.do(t, http.MethodPost, "/reports", "user-1-token", map[string]any{
		"qaVersionId": versionID,
		"questions":   []domain.ItemRef{{Category: domain.CategoryJobCompetency, Index: 4}},
		"description": "off topic",
	})
	if resp.StatusCode != http.StatusCreated || body["status"] != "pending" {
		t.Fatalf("create report: status %d body %v", resp.StatusCode, body)
	}
	reportID := body["id"].(string)

	refund := map[string]any{"type": "question", "category": domain.CategoryJobCompetency, "index": 4}
	resp, body = h.do(t, http.MethodPost, "/admin/reports/"+reportID+"/refund", "admin-token", refund)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refund: status %d body %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, "/admin/reports/"+reportID+"/refund", "admin-token", refund)
	if resp.StatusCode != http.StatusConflict || body["code"] != "REPORT_ALREADY_REFUNDED" {
		t.Fatalf("second refund: status %d body %v", resp.StatusCode, body)
	}
	_, body = h.do(t, http.MethodGet, "/tokens/balance", "user-1-token", nil)
	if body["balance"] != "7.1" {
		t.Fatalf("balance = %v, want 7.1", body["balance"])
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/admin/reports/export", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != xlsxContentType {
		t.Fatalf("export: status %d content-type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}
