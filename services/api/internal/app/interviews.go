package app

import (
	"context"
	"strings"

	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
)

// InterviewInput carries the editable interview fields.
type InterviewInput struct {
	Company     string `json:"company"`
	Position    string `json:"position"`
	Resume      string `json:"resume"`
	CoverLetter string `json:"coverLetter"`
}

func (in InterviewInput) normalized() InterviewInput {
	return InterviewInput{
		Company:     strings.TrimSpace(in.Company),
		Position:    strings.TrimSpace(in.Position),
		Resume:      strings.TrimSpace(in.Resume),
		CoverLetter: strings.TrimSpace(in.CoverLetter),
	}
}

// CreateInterview stores a new interview. Blank fields are allowed; generation
// checks them later.
func (a *App) CreateInterview(ctx context.Context, userID string, in InterviewInput) (domain.Interview, error) {
	in = in.normalized()
	if in.Company == "" && in.Position == "" {
		return domain.Interview{}, invalidf("company or position is required")
	}
	now := a.now()
	iv := domain.Interview{
		ID:          util.NewID(),
		UserID:      userID,
		Company:     in.Company,
		Position:    in.Position,
		Resume:      in.Resume,
		CoverLetter: in.CoverLetter,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveInterview(ctx, iv); err != nil {
		return domain.Interview{}, err
	}
	return iv, nil
}

// GetInterview returns an interview owned by userID.
func (a *App) GetInterview(ctx context.Context, userID, id string) (domain.Interview, error) {
	iv, ok, err := a.store.GetInterview(ctx, id)
	if err != nil {
		return domain.Interview{}, err
	}
	if !ok || iv.UserID != userID {
		return domain.Interview{}, ErrInterviewNotFound
	}
	return iv, nil
}

func (a *App) ListInterviews(ctx context.Context, userID string) ([]domain.Interview, error) {
	return a.store.ListInterviewsByUser(ctx, userID)
}

// UpdateInterview replaces the editable fields.
func (a *App) UpdateInterview(ctx context.Context, userID, id string, in InterviewInput) (domain.Interview, error) {
	iv, err := a.GetInterview(ctx, userID, id)
	if err != nil {
		return domain.Interview{}, err
	}
	in = in.normalized()
	iv.Company = in.Company
	iv.Position = in.Position
	iv.Resume = in.Resume
	iv.CoverLetter = in.CoverLetter
	iv.UpdatedAt = a.now()
	if err := a.store.SaveInterview(ctx, iv); err != nil {
		return domain.Interview{}, err
	}
	return iv, nil
}

// DeleteInterview removes the interview with its jobs, versions and reports,
// then drops archived raw outputs.
func (a *App) DeleteInterview(ctx context.Context, userID, id string) error {
	iv, err := a.GetInterview(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := a.store.DeleteInterview(ctx, iv.ID); err != nil {
		return err
	}
	if a.archive != nil {
		if err := a.archive.DeleteInterview(ctx, iv.UserID, iv.ID); err != nil {
			util.LoggerFromContext(ctx).Warn("raw_output_cleanup_failed", "interview_id", iv.ID, "err", err)
		}
	}
	return nil
}
