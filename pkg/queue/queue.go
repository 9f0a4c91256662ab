// Package queue hands generation jobs to the relay over a Redis stream and
// records per-job delivery status next to it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	StatusQueued     = "queued"
	StatusDelivering = "delivering"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent delivery failure")

// Permanent wraps err so the consumer settles the message as failed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}

// Handler performs one delivery attempt.
type Handler func(ctx context.Context, d Delivery) error

// Delivery is one webhook hand-off for a generation job. Its ID is the job id.
type Delivery struct {
	ID           string    `json:"id"`
	JobID        string    `json:"jobId"`
	UserID       string    `json:"userId"`
	InterviewID  string    `json:"interviewId"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisQueueConfig configures a RedisJobQueue. Zero values fall back to the
// defaults in withDefaults.
type RedisQueueConfig struct {
	Addr     string
	Password string
	Stream   string
	// Group is the consumer group; defaults to "relay".
	Group string
	// Consumer prefixes the per-goroutine consumer names.
	Consumer string
	// StatusTTL bounds how long a delivery record outlives its last update.
	StatusTTL  time.Duration
	MaxRetries int
	Block      time.Duration
	// ClaimIdle is how long a pending message sits before another consumer
	// takes it over. It must exceed the longest handler run.
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	BatchSize  int64
}

func positive[T int | int64 | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

func (c RedisQueueConfig) withDefaults() RedisQueueConfig {
	if c.Group == "" {
		c.Group = "relay"
	}
	c.StatusTTL = positive(c.StatusTTL, 24*time.Hour)
	c.MaxRetries = positive(c.MaxRetries, 5)
	c.Block = positive(c.Block, 5*time.Second)
	c.ClaimIdle = positive(c.ClaimIdle, 30*time.Second)
	c.RetryDelay = positive(c.RetryDelay, 2*time.Second)
	c.MaxLen = positive(c.MaxLen, int64(10000))
	c.BatchSize = positive(c.BatchSize, int64(10))
	return c
}
