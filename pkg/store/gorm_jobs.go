package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"interviewprep/pkg/domain"
)

var activeStatuses = []string{string(domain.JobQueued), string(domain.JobProcessing)}

// CreateJob inserts a job. ErrActiveJobExists is returned when the user already
// holds a queued or processing job.
func (s *GormStore) CreateJob(ctx context.Context, job domain.Job) error {
	model, err := jobToModel(job)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrActiveJobExists
		}
		return err
	}
	return nil
}

// GetJob retrieves a job.
func (s *GormStore) GetJob(ctx context.Context, id string) (domain.Job, bool, error) {
	var model JobModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	job, err := jobFromModel(model)
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

// GetActiveJob returns the user's queued or processing job, if any.
func (s *GormStore) GetActiveJob(ctx context.Context, userID string) (domain.Job, bool, error) {
	var model JobModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, activeStatuses).
		Order("created_at ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, err
	}
	job, err := jobFromModel(model)
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

// ListJobsByUser returns the user's jobs, newest first.
func (s *GormStore) ListJobsByUser(ctx context.Context, userID string, filter JobFilter) ([]domain.Job, error) {
	tx := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		tx = tx.Where("status IN ?", statuses)
	}
	return s.findJobs(tx.Limit(clampLimit(filter.Limit, 20, 200)))
}

// ListJobsByInterview returns every job linked to an interview.
func (s *GormStore) ListJobsByInterview(ctx context.Context, interviewID string) ([]domain.Job, error) {
	return s.findJobs(s.db.WithContext(ctx).Where("interview_id = ?", interviewID).Order("created_at ASC"))
}

// ListStaleJobs returns jobs in status whose reference timestamp is before the cutoff.
// Processing jobs are aged by started_at, queued jobs by created_at.
func (s *GormStore) ListStaleJobs(ctx context.Context, status domain.JobStatus, before time.Time) ([]domain.Job, error) {
	column := "created_at"
	if status == domain.JobProcessing {
		column = "started_at"
	}
	return s.findJobs(s.db.WithContext(ctx).
		Where("status = ? AND "+column+" < ?", string(status), before).
		Order(column + " ASC").
		Limit(100))
}

func (s *GormStore) findJobs(tx *gorm.DB) ([]domain.Job, error) {
	var models []JobModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Job, 0, len(models))
	for _, m := range models {
		job, err := jobFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, job)
	}
	return res, nil
}

// ClaimJob moves a queued job to processing. It returns false when the job is
// gone or no longer queued.
func (s *GormStore) ClaimJob(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ? AND status = ?", id, string(domain.JobQueued)).
		Updates(map[string]any{
			"status":     string(domain.JobProcessing),
			"started_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailJob moves an active job to failed.
func (s *GormStore) FailJob(ctx context.Context, id, errMsg string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&JobModel{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"status":        string(domain.JobFailed),
			"error_message": errMsg,
			"completed_at":  at,
			"updated_at":    at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteJob stores the produced version, makes it the interview default when
// flagged, and marks the job completed, all in one transaction.
func (s *GormStore) CompleteJob(ctx context.Context, id string, version domain.QAVersion, result domain.JobResult, at time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	versionModel, err := qaVersionToModel(version)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&JobModel{}).
			Where("id = ? AND status = ?", id, string(domain.JobProcessing)).
			Updates(map[string]any{
				"status":        string(domain.JobCompleted),
				"result":        datatypes.JSON(resultJSON),
				"error_message": "",
				"completed_at":  at,
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotProcessing
		}
		if versionModel.IsDefault {
			if err := tx.Model(&QAVersionModel{}).
				Where("interview_id = ? AND is_default", versionModel.InterviewID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&versionModel).Error
	})
}

// CancelJob removes a job that is still queued and owned by userID.
func (s *GormStore) CancelJob(ctx context.Context, id, userID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND status = ?", id, userID, string(domain.JobQueued)).
		Delete(&JobModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
