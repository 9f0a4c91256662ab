package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"interviewprep/internal/util"
	"interviewprep/internal/webhooksig"
	"interviewprep/pkg/queue"
)

// Config holds runtime configuration for the relay.
type Config struct {
	RedisAddr     string
	RedisPassword string
	Stream        string
	Group         string
	Concurrency   int
	MaxRetries    int
	RetryDelay    time.Duration
	// Block bounds one stream read; tests shorten it.
	Block time.Duration

	WebhookURL      string
	WebhookAudience string
	RequestTimeout  time.Duration
	HTTPClient      *http.Client

	SigningPrivateKeyPath string
	SigningKeyID          string
	SigningIssuer         string
}

// App drains the delivery stream into the API webhook.
type App struct {
	queue       *queue.RedisJobQueue
	signer      *webhooksig.Signer
	client      *http.Client
	webhookURL  string
	audience    string
	concurrency int
}

type webhookPayload struct {
	JobID       string `json:"jobId"`
	UserID      string `json:"userId"`
	InterviewID string `json:"interviewId"`
}

// New constructs the relay.
func New(cfg Config) (*App, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("webhook URL required")
	}
	audience := strings.TrimSpace(cfg.WebhookAudience)
	if audience == "" {
		audience = "api"
	}
	signer, err := webhooksig.NewSigner(webhooksig.SignerOptions{
		PrivateKeyPath: cfg.SigningPrivateKeyPath,
		KeyID:          cfg.SigningKeyID,
		Issuer:         cfg.SigningIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.Stream,
		Group:      cfg.Group,
		Consumer:   util.NewID(),
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Block:      cfg.Block,
		// a webhook call can run a full generation
		ClaimIdle: cfg.RequestTimeout + 30*time.Second,
	})
	if err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 3 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &App{
		queue:       q,
		signer:      signer,
		client:      client,
		webhookURL:  webhookURL,
		audience:    audience,
		concurrency: concurrency,
	}, nil
}

// Start launches the stream consumers; they stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.queue.Start(ctx, a.concurrency, a.Deliver)
}

// Delivery returns the delivery status of a job.
func (a *App) Delivery(ctx context.Context, jobID string) (queue.Delivery, bool, error) {
	return a.queue.GetDelivery(ctx, jobID)
}

func (a *App) Close() error {
	return a.queue.Close()
}

// Deliver signs d and posts it to the webhook. Transport errors, 408, 409,
// 429 and 5xx are retried; any other 4xx is permanent.
func (a *App) Deliver(ctx context.Context, d queue.Delivery) error {
	logger := util.LoggerFromContext(ctx).With("job_id", d.JobID, "attempt", d.Attempts)
	body, err := json.Marshal(webhookPayload{JobID: d.JobID, UserID: d.UserID, InterviewID: d.InterviewID})
	if err != nil {
		return queue.Permanent(err)
	}
	sig, err := a.signer.Sign(a.audience, d.JobID, body)
	if err != nil {
		return queue.Permanent(fmt.Errorf("sign delivery: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooksig.Header, sig)

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var res struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(snippet, &res)
		logger.Info("delivery_done", "job_status", res.Status, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}
	err = fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if retryable(resp.StatusCode) {
		return err
	}
	return queue.Permanent(err)
}

func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}
