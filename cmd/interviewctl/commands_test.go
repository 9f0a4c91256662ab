package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"interviewprep/pkg/domain"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Body: body.String()})
		ts.mu.Unlock()
		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func respond(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func runCLI(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--api-url", ts.URL, "--token", "test-token"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDispatchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]func(http.ResponseWriter){
		"POST /jobs": respond(http.StatusOK, `{"jobId":"job-9","createdAt":"2026-01-02T03:04:05Z"}`),
	})

	out, err := runCLI(t, ts, "jobs", "dispatch", "--interview", "iv-1", "--type", "question_regenerated",
		"--qa-version", "v-1", "--item", "job_competency:4", "--item", "general_personality:0", "--avoid-repeat")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(out, "queued job-9") {
		t.Fatalf("output = %q", out)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	var body struct {
		InterviewID string          `json:"interviewId"`
		Type        string          `json:"type"`
		Data        domain.JobInput `json:"data"`
	}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.InterviewID != "iv-1" || body.Type != "question_regenerated" || body.Data.QAVersionID != "v-1" || !body.Data.AvoidRepeat {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(body.Data.Items) != 2 || body.Data.Items[0] != (domain.ItemRef{Category: "job_competency", Index: 4}) {
		t.Fatalf("unexpected items %+v", body.Data.Items)
	}
	if body.Data.Index != nil {
		t.Fatalf("index should be unset, got %d", *body.Data.Index)
	}
}

func TestDispatchCommandRejections(t *testing.T) {
	ts := newTestServer(t, map[string]func(http.ResponseWriter){
		"POST /jobs": respond(http.StatusPaymentRequired, `{"error":"INSUFFICIENT_TOKENS","required":3,"available":1.5}`),
	})
	_, err := runCLI(t, ts, "jobs", "dispatch", "--interview", "iv-1", "--type", "questions_generated")
	if err == nil || err.Error() != "insufficient tokens: need 3, have 1.5" {
		t.Fatalf("unexpected error %v", err)
	}

	ts = newTestServer(t, map[string]func(http.ResponseWriter){
		"POST /jobs": respond(http.StatusConflict, `{"error":"job already active","code":"JOB_ACTIVE_EXISTS","activeJob":{"id":"job-1","type":"answers_generated","status":"processing"}}`),
	})
	_, err = runCLI(t, ts, "jobs", "dispatch", "--interview", "iv-1", "--type", "questions_generated")
	if err == nil || !strings.Contains(err.Error(), "job-1 (answers_generated, processing)") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDispatchCommandValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := runCLI(t, ts, "jobs", "dispatch", "--type", "question"); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("expected required flag error, got %v", err)
	}
	if _, err := runCLI(t, ts, "jobs", "dispatch", "--interview", "iv", "--type", "question", "--item", "bad"); err == nil {
		t.Fatalf("expected item parse error")
	}
	if len(ts.requests) != 0 {
		t.Fatalf("no request expected, got %d", len(ts.requests))
	}
}

func TestTokensGetCancelWatch(t *testing.T) {
	ts := newTestServer(t, map[string]func(http.ResponseWriter){
		"GET /tokens/balance": respond(http.StatusOK, `{"balance":"7.1"}`),
		"GET /jobs/job-1":     respond(http.StatusOK, `{"job":{"id":"job-1","type":"answers_generated","status":"failed","cost":"2","errorMessage":"generation failed"}}`),
		"POST /jobs/cancel":   respond(http.StatusOK, `{"jobId":"job-2","status":"cancelled"}`),
		"GET /jobs/active":    respond(http.StatusOK, `{"jobs":[]}`),
	})

	out, err := runCLI(t, ts, "tokens")
	if err != nil || strings.TrimSpace(out) != "balance: 7.1" {
		t.Fatalf("tokens: %q %v", out, err)
	}
	out, err = runCLI(t, ts, "jobs", "get", "job-1")
	if err != nil || !strings.Contains(out, "failed") || !strings.Contains(out, "error: generation failed") {
		t.Fatalf("get: %q %v", out, err)
	}
	out, err = runCLI(t, ts, "jobs", "cancel", "job-2")
	if err != nil || !strings.Contains(out, "cancelled job-2") {
		t.Fatalf("cancel: %q %v", out, err)
	}
	out, err = runCLI(t, ts, "jobs", "watch")
	if err != nil || !strings.Contains(out, "no active jobs") {
		t.Fatalf("watch: %q %v", out, err)
	}
	if _, err := runCLI(t, ts, "jobs", "get", "missing"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestMissingToken(t *testing.T) {
	t.Setenv("INTERVIEWPREP_TOKEN", "")
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"tokens"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected token error, got %v", err)
	}
}
