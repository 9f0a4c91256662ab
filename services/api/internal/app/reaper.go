package app

import (
	"context"
	"fmt"
	"time"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/ledger"
)

// ReapResult counts what one sweep did.
type ReapResult struct {
	Failed   int
	Refunded int
}

// ReapStaleJobs fails jobs stuck in processing (refunding any debit) and jobs
// that were never delivered.
func (a *App) ReapStaleJobs(ctx context.Context) (ReapResult, error) {
	var res ReapResult
	now := a.now()

	stuck, err := a.store.ListStaleJobs(ctx, domain.JobProcessing, now.Add(-a.staleJobAfter))
	if err != nil {
		return res, fmt.Errorf("list stale processing jobs: %w", err)
	}
	for _, job := range stuck {
		failed, err := a.store.FailJob(ctx, job.ID, "job timed out", now)
		if err != nil {
			return res, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		if !failed {
			continue
		}
		res.Failed++
		spent, err := a.ledger.Spent(ctx, ledger.SpendKey(job.ID))
		if err != nil {
			return res, err
		}
		if spent {
			applied, err := a.ledger.Refund(ctx, job.UserID, job.Cost, ledger.Entry{
				Key:    ledger.JobRefundKey(job.ID),
				Reason: "job timed out",
				JobID:  job.ID,
			})
			if err != nil {
				return res, err
			}
			if applied {
				res.Refunded++
			}
		}
	}

	undelivered, err := a.store.ListStaleJobs(ctx, domain.JobQueued, now.Add(-a.queuedJobAfter))
	if err != nil {
		return res, fmt.Errorf("list stale queued jobs: %w", err)
	}
	for _, job := range undelivered {
		failed, err := a.store.FailJob(ctx, job.ID, "job was never delivered", now)
		if err != nil {
			return res, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		if failed {
			res.Failed++
		}
	}
	return res, nil
}

// RunReaper sweeps every interval until ctx is done.
func (a *App) RunReaper(ctx context.Context, interval time.Duration) {
	logger := util.LoggerFromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.ReapStaleJobs(ctx)
			if err != nil {
				logger.Error("reaper_sweep_failed", "err", err)
				continue
			}
			if res.Failed > 0 {
				logger.Warn("reaper_failed_jobs", "failed", res.Failed, "refunded", res.Refunded)
			}
		}
	}
}
