package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"interviewprep/internal/util"
)

// Start runs concurrency consumers until ctx ends. Each consumer first takes
// over messages left pending by a dead peer, then reads new ones.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handle Handler) {
	q.ensureGroup(ctx)
	for i := range max(concurrency, 1) {
		name := q.cfg.Consumer + "-" + strconv.Itoa(i)
		go q.consume(ctx, name, handle)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.groupOnce.Do(func() {
		err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("queue_group_create_failed", "stream", q.cfg.Stream, "err", err)
		}
	})
}

func (q *RedisJobQueue) consume(ctx context.Context, consumer string, handle Handler) {
	logger := util.LoggerFromContext(ctx).With("consumer", consumer)
	for ctx.Err() == nil {
		batch, err := q.next(ctx, consumer)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.Nil) {
				logger.Warn("queue_read_failed", "err", err)
				sleep(ctx, q.cfg.RetryDelay)
			}
			continue
		}
		for _, msg := range batch {
			q.process(ctx, msg, handle)
		}
	}
}

// next returns reclaimed messages if any, otherwise blocks for new ones.
func (q *RedisJobQueue) next(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    q.cfg.BatchSize,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    q.cfg.BatchSize,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (q *RedisJobQueue) process(ctx context.Context, msg redis.XMessage, handle Handler) {
	d := fromMessage(msg)
	if d.JobID == "" {
		q.discard(ctx, msg.ID)
		return
	}
	started, err := q.beginAttempt(ctx, d)
	if err != nil {
		// left pending; reclaimed after ClaimIdle
		util.LoggerFromContext(ctx).Warn("delivery_status_failed", "job_id", d.JobID, "err", err)
		return
	}
	d = started
	logger := util.LoggerFromContext(ctx).With("job_id", d.JobID, "attempt", d.Attempts)

	herr := handle(ctx, d)
	switch {
	case herr == nil:
		_ = q.setOutcome(ctx, d.JobID, StatusDelivered, "")
		q.discard(ctx, msg.ID)
	case errors.Is(herr, ErrPermanent) || d.Attempts >= q.cfg.MaxRetries:
		logger.Warn("delivery_failed", "err", herr)
		_ = q.setOutcome(ctx, d.JobID, StatusFailed, herr.Error())
		q.discard(ctx, msg.ID)
	default:
		logger.Info("delivery_retry", "err", herr)
		_ = q.setOutcome(ctx, d.JobID, StatusQueued, herr.Error())
		if !sleep(ctx, q.cfg.RetryDelay) {
			return
		}
		if err := q.requeue(ctx, msg.ID, d); err != nil {
			logger.Warn("delivery_requeue_failed", "err", err)
		}
	}
}

func (q *RedisJobQueue) discard(ctx context.Context, msgID string) {
	_, _ = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID)
		pipe.XDel(ctx, q.cfg.Stream, msgID)
		return nil
	})
}

// requeue appends a fresh copy of the message and retires the old one in a
// single transaction; on failure the original stays pending.
func (q *RedisJobQueue) requeue(ctx context.Context, msgID string, d Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, q.addArgs(d))
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID)
		pipe.XDel(ctx, q.cfg.Stream, msgID)
		return nil
	})
	return err
}

func fromMessage(msg redis.XMessage) Delivery {
	field := func(name string) string {
		v, _ := msg.Values[name].(string)
		return v
	}
	jobID := field("job_id")
	return Delivery{ID: jobID, JobID: jobID, UserID: field("user_id"), InterviewID: field("interview_id")}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
