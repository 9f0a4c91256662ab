package app

import (
	"context"
	"errors"

	"interviewprep/pkg/domain"
	"interviewprep/pkg/store"
)

// ListVersions returns every generated version of an interview owned by userID.
func (a *App) ListVersions(ctx context.Context, userID, interviewID string) ([]domain.QAVersion, error) {
	if _, err := a.GetInterview(ctx, userID, interviewID); err != nil {
		return nil, err
	}
	return a.store.ListQAVersions(ctx, interviewID)
}

// AdminListVersions lists versions of any interview.
func (a *App) AdminListVersions(ctx context.Context, interviewID string) ([]domain.QAVersion, error) {
	return a.store.ListQAVersions(ctx, interviewID)
}

// GetVersion returns one version owned by userID.
func (a *App) GetVersion(ctx context.Context, userID, id string) (domain.QAVersion, error) {
	v, ok, err := a.store.GetQAVersion(ctx, id)
	if err != nil {
		return domain.QAVersion{}, err
	}
	if !ok || v.UserID != userID {
		return domain.QAVersion{}, ErrVersionNotFound
	}
	return v, nil
}

// SetDefaultVersion makes versionID the interview's only default version.
func (a *App) SetDefaultVersion(ctx context.Context, userID, versionID string) (domain.QAVersion, error) {
	v, err := a.GetVersion(ctx, userID, versionID)
	if err != nil {
		return domain.QAVersion{}, err
	}
	if err := a.store.SetDefaultQAVersion(ctx, v.InterviewID, v.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.QAVersion{}, ErrVersionNotFound
		}
		return domain.QAVersion{}, err
	}
	v.IsDefault = true
	return v, nil
}

// sourceVersion resolves the version a derived job starts from: the explicit
// one when given, the interview default otherwise.
func (a *App) sourceVersion(ctx context.Context, iv domain.Interview, id string) (domain.QAVersion, error) {
	var (
		v   domain.QAVersion
		ok  bool
		err error
	)
	if id == "" {
		v, ok, err = a.store.GetDefaultQAVersion(ctx, iv.ID)
	} else {
		v, ok, err = a.store.GetQAVersion(ctx, id)
	}
	if err != nil {
		return domain.QAVersion{}, err
	}
	if !ok || v.InterviewID != iv.ID {
		return domain.QAVersion{}, ErrVersionNotFound
	}
	return v, nil
}
