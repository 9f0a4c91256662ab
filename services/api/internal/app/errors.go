package app

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"interviewprep/pkg/domain"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInterviewNotFound  = errors.New("interview not found")
	ErrVersionNotFound    = errors.New("qa version not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrReportNotFound     = errors.New("report not found")
	ErrReportItemNotFound = errors.New("report item not found")
	ErrAlreadyRefunded    = errors.New("report item already refunded")
	ErrJobNotCancellable  = errors.New("job is no longer queued")
	ErrPayloadMismatch    = errors.New("delivery does not match job")
	ErrEnqueueFailed      = errors.New("failed to enqueue job")
	ErrArchiveDisabled    = errors.New("raw output archive not configured")
)

// ActiveJobError is returned by Dispatch when the user already has a queued or
// processing job.
type ActiveJobError struct {
	Job domain.Job
}

func (e *ActiveJobError) Error() string {
	return fmt.Sprintf("job %s already %s", e.Job.ID, e.Job.Status)
}

// InsufficientTokensError is returned by Dispatch when the balance does not
// cover the job cost.
type InsufficientTokensError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %s, available %s", e.Required, e.Available)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
