package store

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"interviewprep/pkg/domain"
)

func profileToModel(p domain.Profile) ProfileModel {
	role := p.Role
	if role == "" {
		role = domain.RoleUser
	}
	return ProfileModel{
		UserID:    p.UserID,
		Email:     p.Email,
		Role:      string(role),
		Tokens:    p.Tokens,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		UserID:    m.UserID,
		Email:     m.Email,
		Role:      domain.UserRole(m.Role),
		Tokens:    m.Tokens,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func interviewToModel(iv domain.Interview) InterviewModel {
	return InterviewModel{
		ID:          iv.ID,
		UserID:      iv.UserID,
		Company:     iv.Company,
		Position:    iv.Position,
		Resume:      iv.Resume,
		CoverLetter: iv.CoverLetter,
		CreatedAt:   iv.CreatedAt,
		UpdatedAt:   iv.UpdatedAt,
	}
}

func interviewFromModel(m InterviewModel) domain.Interview {
	return domain.Interview{
		ID:          m.ID,
		UserID:      m.UserID,
		Company:     m.Company,
		Position:    m.Position,
		Resume:      m.Resume,
		CoverLetter: m.CoverLetter,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func jobToModel(job domain.Job) (JobModel, error) {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return JobModel{}, fmt.Errorf("encode job input: %w", err)
	}
	model := JobModel{
		ID:           job.ID,
		UserID:       job.UserID,
		InterviewID:  job.InterviewID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Cost:         job.Cost,
		Input:        datatypes.JSON(input),
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.Result != nil {
		result, err := json.Marshal(job.Result)
		if err != nil {
			return JobModel{}, fmt.Errorf("encode job result: %w", err)
		}
		model.Result = datatypes.JSON(result)
	}
	return model, nil
}

func jobFromModel(m JobModel) (domain.Job, error) {
	job := domain.Job{
		ID:           m.ID,
		UserID:       m.UserID,
		InterviewID:  m.InterviewID,
		Type:         domain.JobType(m.Type),
		Status:       domain.JobStatus(m.Status),
		Cost:         m.Cost,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.Input) > 0 {
		if err := json.Unmarshal(m.Input, &job.Input); err != nil {
			return domain.Job{}, fmt.Errorf("decode job %s input: %w", m.ID, err)
		}
	}
	if len(m.Result) > 0 && string(m.Result) != "null" {
		var result domain.JobResult
		if err := json.Unmarshal(m.Result, &result); err != nil {
			return domain.Job{}, fmt.Errorf("decode job %s result: %w", m.ID, err)
		}
		job.Result = &result
	}
	return job, nil
}

func qaVersionToModel(v domain.QAVersion) (QAVersionModel, error) {
	questions, err := json.Marshal(v.Questions)
	if err != nil {
		return QAVersionModel{}, fmt.Errorf("encode questions: %w", err)
	}
	answers, err := json.Marshal(v.Answers)
	if err != nil {
		return QAVersionModel{}, fmt.Errorf("encode answers: %w", err)
	}
	targets, err := json.Marshal(v.TargetItems)
	if err != nil {
		return QAVersionModel{}, fmt.Errorf("encode target items: %w", err)
	}
	return QAVersionModel{
		ID:            v.ID,
		InterviewID:   v.InterviewID,
		UserID:        v.UserID,
		JobID:         v.JobID,
		QuestionsData: datatypes.JSON(questions),
		AnswersData:   datatypes.JSON(answers),
		IsDefault:     v.IsDefault,
		Type:          string(v.Type),
		ParentQAID:    v.ParentID,
		TargetItems:   datatypes.JSON(targets),
		TokensUsed:    v.TokensUsed,
		CreatedAt:     v.CreatedAt,
	}, nil
}

func qaVersionFromModel(m QAVersionModel) (domain.QAVersion, error) {
	v := domain.QAVersion{
		ID:          m.ID,
		InterviewID: m.InterviewID,
		UserID:      m.UserID,
		JobID:       m.JobID,
		IsDefault:   m.IsDefault,
		Type:        domain.JobType(m.Type),
		ParentID:    m.ParentQAID,
		TokensUsed:  m.TokensUsed,
		CreatedAt:   m.CreatedAt,
	}
	if err := json.Unmarshal(m.QuestionsData, &v.Questions); err != nil {
		return domain.QAVersion{}, fmt.Errorf("decode version %s questions: %w", m.ID, err)
	}
	if len(m.AnswersData) > 0 {
		if err := json.Unmarshal(m.AnswersData, &v.Answers); err != nil {
			return domain.QAVersion{}, fmt.Errorf("decode version %s answers: %w", m.ID, err)
		}
	}
	if len(m.TargetItems) > 0 {
		if err := json.Unmarshal(m.TargetItems, &v.TargetItems); err != nil {
			return domain.QAVersion{}, fmt.Errorf("decode version %s targets: %w", m.ID, err)
		}
	}
	return v, nil
}

func reportToModel(r domain.Report) (ReportModel, error) {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return ReportModel{}, fmt.Errorf("encode report items: %w", err)
	}
	return ReportModel{
		ID:            r.ID,
		UserID:        r.UserID,
		InterviewID:   r.InterviewID,
		QAVersionID:   r.QAVersionID,
		Items:         datatypes.JSON(items),
		Description:   r.Description,
		Status:        string(r.Status),
		AdminResponse: r.AdminResponse,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

func reportFromModel(m ReportModel) (domain.Report, error) {
	r := domain.Report{
		ID:            m.ID,
		UserID:        m.UserID,
		InterviewID:   m.InterviewID,
		QAVersionID:   m.QAVersionID,
		Description:   m.Description,
		Status:        domain.ReportStatus(m.Status),
		AdminResponse: m.AdminResponse,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if err := json.Unmarshal(m.Items, &r.Items); err != nil {
		return domain.Report{}, fmt.Errorf("decode report %s items: %w", m.ID, err)
	}
	return r, nil
}

func transactionToModel(t domain.TokenTransaction) TokenTransactionModel {
	return TokenTransactionModel{
		ID:             t.ID,
		UserID:         t.UserID,
		Kind:           string(t.Kind),
		Amount:         t.Amount,
		BalanceAfter:   t.BalanceAfter,
		Reason:         t.Reason,
		JobID:          t.JobID,
		ReportID:       t.ReportID,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
	}
}

func transactionFromModel(m TokenTransactionModel) domain.TokenTransaction {
	return domain.TokenTransaction{
		ID:             m.ID,
		UserID:         m.UserID,
		Kind:           domain.TransactionKind(m.Kind),
		Amount:         m.Amount,
		BalanceAfter:   m.BalanceAfter,
		Reason:         m.Reason,
		JobID:          m.JobID,
		ReportID:       m.ReportID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
}
