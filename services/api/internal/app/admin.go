package app

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/ledger"
	"interviewprep/pkg/store"
)

// GrantRequest tops up a user's balance.
type GrantRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	// Key deduplicates the grant, e.g. a payment id.
	Key string `json:"key"`
}

// RawOutputLink is a presigned download of a job's raw model output.
type RawOutputLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Balance returns a user's balance; unknown users have zero.
func (a *App) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return a.ledger.Balance(ctx, userID)
}

// ListTransactions lists ledger rows for review.
func (a *App) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.TokenTransaction, error) {
	return a.store.ListTransactions(ctx, filter)
}

// GrantTokens credits a balance. It reports false when the key was already used.
func (a *App) GrantTokens(ctx context.Context, req GrantRequest) (bool, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return false, invalidf("userId is required")
	}
	if !req.Amount.IsPositive() {
		return false, invalidf("amount must be positive")
	}
	key := strings.TrimSpace(req.Key)
	if key != "" {
		key = "grant:" + key
	}
	applied, err := a.ledger.Grant(ctx, req.UserID, req.Amount, ledger.Entry{Key: key, Reason: strings.TrimSpace(req.Reason)})
	if err != nil {
		return false, err
	}
	if applied {
		util.LoggerFromContext(ctx).Info("tokens_granted", "user_id", req.UserID, "amount", req.Amount.String())
	}
	return applied, nil
}

// RawOutputURL returns a presigned link to the archived model output of a job.
func (a *App) RawOutputURL(ctx context.Context, jobID string) (RawOutputLink, error) {
	if a.archive == nil {
		return RawOutputLink{}, ErrArchiveDisabled
	}
	job, ok, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return RawOutputLink{}, err
	}
	if !ok {
		return RawOutputLink{}, ErrJobNotFound
	}
	url, expires, err := a.archive.URL(ctx, job.UserID, job.InterviewID, job.ID)
	if err != nil {
		return RawOutputLink{}, err
	}
	return RawOutputLink{URL: url, ExpiresAt: expires}, nil
}
