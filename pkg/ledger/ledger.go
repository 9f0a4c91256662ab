package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/store"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// Store is the persistence surface the ledger needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error)
	SpendTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error)
	CreditTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error)
	HasTransaction(ctx context.Context, idempotencyKey string) (bool, error)
}

// Entry describes why tokens move and how to deduplicate the movement.
type Entry struct {
	Key      string
	Reason   string
	JobID    string
	ReportID string
}

// Ledger owns every balance mutation. Feature code never writes balances directly.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New builds a ledger over store.
func New(s Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Balance returns the current balance. A missing profile reads as zero.
func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	p, ok, err := l.store.GetProfile(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	if !ok {
		return decimal.Zero, nil
	}
	return p.Tokens, nil
}

// Check reports whether the balance covers required, along with the balance read.
func (l *Ledger) Check(ctx context.Context, userID string, required decimal.Decimal) (bool, decimal.Decimal, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, decimal.Zero, err
	}
	return balance.GreaterThanOrEqual(required), balance, nil
}

// Spend atomically debits amount. It returns false without mutating anything when
// the balance is short. Replaying the same key reports the earlier debit as done.
func (l *Ledger) Spend(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	_, err := l.store.SpendTokens(ctx, l.entry(domain.TxSpend, userID, amount, e))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrInsufficientTokens):
		return false, nil
	case errors.Is(err, store.ErrDuplicateTransaction):
		return true, nil
	default:
		return false, fmt.Errorf("spend tokens: %w", err)
	}
}

// Refund credits amount back. It returns false when the key was already applied.
func (l *Ledger) Refund(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (bool, error) {
	return l.credit(ctx, domain.TxRefund, userID, amount, e)
}

// Grant tops up a balance, e.g. after an external payment.
func (l *Ledger) Grant(ctx context.Context, userID string, amount decimal.Decimal, e Entry) (bool, error) {
	return l.credit(ctx, domain.TxGrant, userID, amount, e)
}

// Spent reports whether a debit with key exists.
func (l *Ledger) Spent(ctx context.Context, key string) (bool, error) {
	return l.store.HasTransaction(ctx, key)
}

// RefundEntry builds a refund ledger row for stores that apply the credit inside
// a larger transaction, such as flagging a report item.
func (l *Ledger) RefundEntry(userID string, amount decimal.Decimal, e Entry) domain.TokenTransaction {
	return l.entry(domain.TxRefund, userID, amount, e)
}

func (l *Ledger) credit(ctx context.Context, kind domain.TransactionKind, userID string, amount decimal.Decimal, e Entry) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrInvalidAmount
	}
	_, err := l.store.CreditTokens(ctx, l.entry(kind, userID, amount, e))
	if errors.Is(err, store.ErrDuplicateTransaction) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s tokens: %w", kind, err)
	}
	return true, nil
}

func (l *Ledger) entry(kind domain.TransactionKind, userID string, amount decimal.Decimal, e Entry) domain.TokenTransaction {
	key := strings.TrimSpace(e.Key)
	if key == "" {
		key = string(kind) + ":" + uuid.NewString()
	}
	return domain.TokenTransaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Kind:           kind,
		Amount:         amount,
		Reason:         e.Reason,
		JobID:          e.JobID,
		ReportID:       e.ReportID,
		IdempotencyKey: key,
		CreatedAt:      l.now(),
	}
}

// SpendKey is the idempotency key of a job's debit.
func SpendKey(jobID string) string { return "spend:job:" + jobID }

// JobRefundKey is the idempotency key of a job's compensating refund.
func JobRefundKey(jobID string) string { return "refund:job:" + jobID }

// ReportRefundKey is the idempotency key of one refunded report cell.
func ReportRefundKey(reportID string, kind domain.ItemKind, category string, index int) string {
	return fmt.Sprintf("refund:report:%s:%s:%s:%d", reportID, kind, category, index)
}
