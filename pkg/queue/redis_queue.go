package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"interviewprep/internal/util"
)

// RedisJobQueue is a Redis Streams work queue with at-least-once delivery.
// Each message carries the job coordinates; attempt counts and outcomes live
// in a hash keyed by job id.
type RedisJobQueue struct {
	rdb       *redis.Client
	cfg       RedisQueueConfig
	groupOnce sync.Once
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	cfg.Stream = strings.TrimSpace(cfg.Stream)
	cfg.Group = strings.TrimSpace(cfg.Group)
	cfg.Consumer = strings.TrimSpace(cfg.Consumer)
	switch {
	case cfg.Addr == "":
		return nil, errors.New("redis addr required")
	case cfg.Stream == "":
		return nil, errors.New("queue stream required")
	}
	if cfg.Consumer == "" {
		cfg.Consumer = util.NewID()
	}
	cfg = cfg.withDefaults()
	return &RedisJobQueue{
		rdb: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password}),
		cfg: cfg,
	}, nil
}

func (q *RedisJobQueue) Close() error {
	return q.rdb.Close()
}

// Enqueue resets the status record for d.JobID and appends a stream message.
// Enqueueing the same job twice yields two messages sharing one record.
func (q *RedisJobQueue) Enqueue(ctx context.Context, d Delivery) (Delivery, error) {
	jobID := strings.TrimSpace(d.JobID)
	if jobID == "" {
		return Delivery{}, errors.New("jobId required")
	}
	now := time.Now().UTC()
	d = Delivery{
		ID:          jobID,
		JobID:       jobID,
		UserID:      d.UserID,
		InterviewID: d.InterviewID,
		Status:      StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := q.statusKey(jobID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, recordFrom(d))
		pipe.Expire(ctx, key, q.cfg.StatusTTL)
		pipe.XAdd(ctx, q.addArgs(d))
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// GetDelivery reads the status record for jobID.
func (q *RedisJobQueue) GetDelivery(ctx context.Context, jobID string) (Delivery, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Delivery{}, false, nil
	}
	res := q.rdb.HGetAll(ctx, q.statusKey(jobID))
	if err := res.Err(); err != nil {
		return Delivery{}, false, err
	}
	if len(res.Val()) == 0 {
		return Delivery{}, false, nil
	}
	var rec statusRecord
	if err := res.Scan(&rec); err != nil {
		return Delivery{}, false, err
	}
	return rec.delivery(jobID), true, nil
}

// beginAttempt bumps the attempt counter and flags the record as delivering.
func (q *RedisJobQueue) beginAttempt(ctx context.Context, d Delivery) (Delivery, error) {
	key := q.statusKey(d.JobID)
	now := time.Now().UTC()
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "attempts", 1)
		pipe.HSetNX(ctx, key, "created_at", now.UnixMilli())
		pipe.HSet(ctx, key,
			"user_id", d.UserID,
			"interview_id", d.InterviewID,
			"status", StatusDelivering,
			"updated_at", now.UnixMilli(),
		)
		pipe.Expire(ctx, key, q.cfg.StatusTTL)
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	stored, _, err := q.GetDelivery(ctx, d.JobID)
	return stored, err
}

func (q *RedisJobQueue) setOutcome(ctx context.Context, jobID, status, errMsg string) error {
	key := q.statusKey(jobID)
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "status", status, "error", errMsg, "updated_at", time.Now().UTC().UnixMilli())
		pipe.Expire(ctx, key, q.cfg.StatusTTL)
		return nil
	})
	return err
}

func (q *RedisJobQueue) statusKey(jobID string) string {
	return "delivery:" + q.cfg.Stream + ":" + jobID
}

func (q *RedisJobQueue) addArgs(d Delivery) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: []string{"job_id", d.JobID, "user_id", d.UserID, "interview_id", d.InterviewID},
	}
}

// statusRecord is the hash layout of a delivery status.
type statusRecord struct {
	UserID      string `redis:"user_id"`
	InterviewID string `redis:"interview_id"`
	Status      string `redis:"status"`
	Error       string `redis:"error"`
	Attempts    int    `redis:"attempts"`
	CreatedAt   int64  `redis:"created_at"`
	UpdatedAt   int64  `redis:"updated_at"`
}

func recordFrom(d Delivery) statusRecord {
	return statusRecord{
		UserID:      d.UserID,
		InterviewID: d.InterviewID,
		Status:      d.Status,
		Error:       d.ErrorMessage,
		Attempts:    d.Attempts,
		CreatedAt:   d.CreatedAt.UnixMilli(),
		UpdatedAt:   d.UpdatedAt.UnixMilli(),
	}
}

func (r statusRecord) delivery(jobID string) Delivery {
	return Delivery{
		ID:           jobID,
		JobID:        jobID,
		UserID:       r.UserID,
		InterviewID:  r.InterviewID,
		Status:       r.Status,
		ErrorMessage: r.Error,
		Attempts:     r.Attempts,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt).UTC(),
	}
}
