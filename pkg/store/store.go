package store

import (
	"context"
	"errors"
	"time"

	"interviewprep/pkg/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrActiveJobExists      = errors.New("active job exists for user")
	ErrInsufficientTokens   = errors.New("insufficient tokens")
	ErrDuplicateTransaction = errors.New("duplicate token transaction")
	ErrJobNotProcessing     = errors.New("job is not processing")
	ErrAlreadyRefunded      = errors.New("report item already refunded")
	ErrItemNotFound         = errors.New("report item not found")
)

// JobFilter narrows job listings. Zero values mean "any".
type JobFilter struct {
	Statuses []domain.JobStatus
	Limit    int
}

// ReportFilter narrows report listings for users and admins.
type ReportFilter struct {
	UserID string
	Status domain.ReportStatus
	Limit  int
	Offset int
}

// TransactionFilter narrows token ledger listings.
type TransactionFilter struct {
	UserID string
	Kind   domain.TransactionKind
	Limit  int
	Offset int
}

// RefundItemRequest identifies one report cell to refund and the ledger entry to record.
type RefundItemRequest struct {
	ReportID string
	Kind     domain.ItemKind
	Category string
	Index    int
	At       time.Time
	Entry    domain.TokenTransaction
}

// Store defines persistence for profiles, the token ledger, interviews, jobs,
// generated Q&A versions and reports.
type Store interface {
	// profiles and ledger
	GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error)
	SaveProfile(ctx context.Context, p domain.Profile) error
	SpendTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error)
	CreditTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error)
	HasTransaction(ctx context.Context, idempotencyKey string) (bool, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.TokenTransaction, error)

	// interviews
	SaveInterview(ctx context.Context, iv domain.Interview) error
	GetInterview(ctx context.Context, id string) (domain.Interview, bool, error)
	ListInterviewsByUser(ctx context.Context, userID string) ([]domain.Interview, error)
	DeleteInterview(ctx context.Context, id string) error

	// jobs
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, bool, error)
	GetActiveJob(ctx context.Context, userID string) (domain.Job, bool, error)
	ListJobsByUser(ctx context.Context, userID string, filter JobFilter) ([]domain.Job, error)
	ListJobsByInterview(ctx context.Context, interviewID string) ([]domain.Job, error)
	ClaimJob(ctx context.Context, id string, at time.Time) (bool, error)
	FailJob(ctx context.Context, id, errMsg string, at time.Time) (bool, error)
	CompleteJob(ctx context.Context, id string, version domain.QAVersion, result domain.JobResult, at time.Time) error
	CancelJob(ctx context.Context, id, userID string) (bool, error)
	ListStaleJobs(ctx context.Context, status domain.JobStatus, before time.Time) ([]domain.Job, error)

	// generated Q&A
	GetQAVersion(ctx context.Context, id string) (domain.QAVersion, bool, error)
	ListQAVersions(ctx context.Context, interviewID string) ([]domain.QAVersion, error)
	GetDefaultQAVersion(ctx context.Context, interviewID string) (domain.QAVersion, bool, error)
	SetDefaultQAVersion(ctx context.Context, interviewID, versionID string) error

	// reports
	CreateReport(ctx context.Context, r domain.Report) error
	GetReport(ctx context.Context, id string) (domain.Report, bool, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, int64, error)
	UpdateReportStatus(ctx context.Context, id string, status domain.ReportStatus, response string, at time.Time) error
	RefundReportItem(ctx context.Context, req RefundItemRequest) (domain.Report, domain.TokenTransaction, error)
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
