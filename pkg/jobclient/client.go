// Package jobclient talks to the interview-prep API and tracks async jobs
// until they finish.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"interviewprep/pkg/domain"
)

// ErrNotFound matches API errors with status 404.
var ErrNotFound = errors.New("not found")

// Client calls the API over HTTP on behalf of one user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError represents an API error response.
type APIError struct {
	Status  int
	Message string
	Code    string
	// Set on 402 responses.
	Required  decimal.Decimal
	Available decimal.Decimal
	// Set on 409 responses to a dispatch.
	ActiveJob *domain.Job
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// DispatchRequest asks for one generation job.
type DispatchRequest struct {
	InterviewID string          `json:"interviewId"`
	Type        domain.JobType  `json:"type"`
	Data        domain.JobInput `json:"data"`
}

// DispatchResult identifies the queued job.
type DispatchResult struct {
	JobID     string    `json:"jobId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewClient constructs an API client authenticated with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// ActiveJobs lists the caller's queued and processing jobs.
func (c *Client) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	var resp struct {
		Jobs []domain.Job `json:"jobs"`
	}
	if err := c.call(ctx, http.MethodGet, "/jobs/active", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob returns one job. A cancelled or foreign job yields ErrNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var resp struct {
		Job domain.Job `json:"job"`
	}
	if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return domain.Job{}, err
	}
	return resp.Job, nil
}

// RecentJobs lists the caller's latest jobs.
func (c *Client) RecentJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	var resp struct {
		Items []domain.Job `json:"items"`
	}
	path := fmt.Sprintf("/jobs?limit=%d", limit)
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Dispatch queues a job. Funding and concurrency rejections come back as
// *APIError with Required/Available or ActiveJob set.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	var res DispatchResult
	if err := c.call(ctx, http.MethodPost, "/jobs", req, &res); err != nil {
		return DispatchResult{}, err
	}
	return res, nil
}

// Cancel removes a job the worker has not claimed yet.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodPost, "/jobs/cancel", map[string]string{"jobId": id}, nil)
}

// Balance returns the caller's token balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.call(ctx, http.MethodGet, "/tokens/balance", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.do(req, out)
}

type errorBody struct {
	Error     string      `json:"error"`
	Code      string      `json:"code"`
	Required  json.Number `json:"required"`
	Available json.Number `json:"available"`
	ActiveJob *domain.Job `json:"activeJob"`
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorBody
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		apiErr := &APIError{
			Status:    resp.StatusCode,
			Message:   msg,
			Code:      strings.TrimSpace(errResp.Code),
			ActiveJob: errResp.ActiveJob,
		}
		apiErr.Required, _ = decimal.NewFromString(errResp.Required.String())
		apiErr.Available, _ = decimal.NewFromString(errResp.Available.String())
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
