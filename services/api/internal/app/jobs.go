package app

import (
	"context"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/store"
)

// GetJob returns a job owned by userID.
func (a *App) GetJob(ctx context.Context, userID, id string) (domain.Job, error) {
	job, ok, err := a.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok || job.UserID != userID {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

// ActiveJobs returns the user's queued and processing jobs.
func (a *App) ActiveJobs(ctx context.Context, userID string) ([]domain.Job, error) {
	return a.store.ListJobsByUser(ctx, userID, store.JobFilter{
		Statuses: []domain.JobStatus{domain.JobQueued, domain.JobProcessing},
	})
}

// RecentJobs returns the user's latest jobs, newest first.
func (a *App) RecentJobs(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	return a.store.ListJobsByUser(ctx, userID, store.JobFilter{Limit: limit})
}

// CancelJob removes a job that the worker has not claimed yet. Claim and
// cancel are both conditional on the queued status, so whichever commits
// first wins and the other observes the new state.
func (a *App) CancelJob(ctx context.Context, userID, id string) error {
	removed, err := a.store.CancelJob(ctx, id, userID)
	if err != nil {
		return err
	}
	if removed {
		util.LoggerFromContext(ctx).Info("job_cancelled", "job_id", id, "user_id", userID)
		return nil
	}
	if _, err := a.GetJob(ctx, userID, id); err != nil {
		return err
	}
	return ErrJobNotCancellable
}
