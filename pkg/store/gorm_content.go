package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"interviewprep/pkg/domain"
)

// SaveInterview stores or updates an interview.
func (s *GormStore) SaveInterview(ctx context.Context, iv domain.Interview) error {
	model := interviewToModel(iv)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"company", "position", "resume", "cover_letter", "updated_at"}),
	}).Create(&model).Error
}

// GetInterview retrieves an interview.
func (s *GormStore) GetInterview(ctx context.Context, id string) (domain.Interview, bool, error) {
	var model InterviewModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Interview{}, false, nil
		}
		return domain.Interview{}, false, err
	}
	return interviewFromModel(model), true, nil
}

// ListInterviewsByUser returns a user's interviews, newest first.
func (s *GormStore) ListInterviewsByUser(ctx context.Context, userID string) ([]domain.Interview, error) {
	var models []InterviewModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Interview, 0, len(models))
	for _, m := range models {
		res = append(res, interviewFromModel(m))
	}
	return res, nil
}

// DeleteInterview removes an interview with its jobs, versions and reports.
func (s *GormStore) DeleteInterview(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("interview_id = ?", id).Delete(&JobModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("interview_id = ?", id).Delete(&ReportModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("interview_id = ?", id).Delete(&QAVersionModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&InterviewModel{}).Error
	})
}

// GetQAVersion retrieves a generated version.
func (s *GormStore) GetQAVersion(ctx context.Context, id string) (domain.QAVersion, bool, error) {
	var model QAVersionModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.QAVersion{}, false, nil
		}
		return domain.QAVersion{}, false, err
	}
	v, err := qaVersionFromModel(model)
	if err != nil {
		return domain.QAVersion{}, false, err
	}
	return v, true, nil
}

// ListQAVersions returns every version of an interview, oldest first.
func (s *GormStore) ListQAVersions(ctx context.Context, interviewID string) ([]domain.QAVersion, error) {
	var models []QAVersionModel
	if err := s.db.WithContext(ctx).Where("interview_id = ?", interviewID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.QAVersion, 0, len(models))
	for _, m := range models {
		v, err := qaVersionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, nil
}

// GetDefaultQAVersion returns the interview's default version.
func (s *GormStore) GetDefaultQAVersion(ctx context.Context, interviewID string) (domain.QAVersion, bool, error) {
	var model QAVersionModel
	if err := s.db.WithContext(ctx).First(&model, "interview_id = ? AND is_default", interviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.QAVersion{}, false, nil
		}
		return domain.QAVersion{}, false, err
	}
	v, err := qaVersionFromModel(model)
	if err != nil {
		return domain.QAVersion{}, false, err
	}
	return v, true, nil
}

// SetDefaultQAVersion clears the current default and flags versionID.
func (s *GormStore) SetDefaultQAVersion(ctx context.Context, interviewID, versionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&QAVersionModel{}).
			Where("id = ? AND interview_id = ?", versionID, interviewID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&QAVersionModel{}).
			Where("interview_id = ? AND is_default AND id <> ?", interviewID, versionID).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&QAVersionModel{}).
			Where("id = ?", versionID).
			Update("is_default", true).Error
	})
}

// CreateReport inserts a report.
func (s *GormStore) CreateReport(ctx context.Context, r domain.Report) error {
	model, err := reportToModel(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetReport retrieves a report.
func (s *GormStore) GetReport(ctx context.Context, id string) (domain.Report, bool, error) {
	var model ReportModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Report{}, false, nil
		}
		return domain.Report{}, false, err
	}
	r, err := reportFromModel(model)
	if err != nil {
		return domain.Report{}, false, err
	}
	return r, true, nil
}

// ListReports returns one page of reports, newest first, and the total match count.
func (s *GormStore) ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, int64, error) {
	tx := s.db.WithContext(ctx).Model(&ReportModel{})
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []ReportModel
	if err := tx.Order("created_at DESC").
		Limit(clampLimit(filter.Limit, 20, 200)).
		Offset(filter.Offset).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	res := make([]domain.Report, 0, len(models))
	for _, m := range models {
		r, err := reportFromModel(m)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, r)
	}
	return res, total, nil
}

// UpdateReportStatus sets the review status and admin response.
func (s *GormStore) UpdateReportStatus(ctx context.Context, id string, status domain.ReportStatus, response string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ReportModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         string(status),
			"admin_response": response,
			"updated_at":     at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RefundReportItem flags one report cell refunded and credits the owner in a
// single transaction. The report row is locked so concurrent refunds serialize.
func (s *GormStore) RefundReportItem(ctx context.Context, req RefundItemRequest) (domain.Report, domain.TokenTransaction, error) {
	var (
		report domain.Report
		entry  domain.TokenTransaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ReportModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", req.ReportID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		r, err := reportFromModel(model)
		if err != nil {
			return err
		}
		item, ok := r.Items.Find(req.Kind, req.Category, req.Index)
		if !ok {
			return ErrItemNotFound
		}
		if item.Refunded {
			return ErrAlreadyRefunded
		}
		at := req.At
		item.Refunded = true
		item.RefundAmount = req.Entry.Amount
		item.RefundedAt = &at
		r.UpdatedAt = at

		items, err := json.Marshal(r.Items)
		if err != nil {
			return err
		}
		if err := tx.Model(&ReportModel{}).
			Where("id = ?", r.ID).
			Updates(map[string]any{
				"items":      datatypes.JSON(items),
				"updated_at": at,
			}).Error; err != nil {
			return err
		}
		credit := req.Entry
		credit.UserID = r.UserID
		credit.ReportID = r.ID
		entry, err = creditInTx(tx, credit)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return domain.Report{}, domain.TokenTransaction{}, err
	}
	return report, entry, nil
}
