package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"interviewprep/pkg/domain"
)

// GormStore implements Store on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects to dsn and brings the schema up to date.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.NewSlogLogger(slog.Default().With("component", "gorm"), gormlogger.Config{SlowThreshold: time.Second, LogLevel: gormlogger.Warn, IgnoreRecordNotFoundError: true}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrate(ctx, db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// GetProfile returns a profile by user ID.
func (s *GormStore) GetProfile(ctx context.Context, userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// SaveProfile creates a profile or updates its email and role. The balance is
// never written here; it only moves through SpendTokens and CreditTokens.
func (s *GormStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	model := profileToModel(p)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "role", "updated_at"}),
	}).Omit("tokens").Create(&model).Error
}

// SpendTokens decrements the balance only when it covers the amount, and records
// the ledger entry in the same transaction.
func (s *GormStore) SpendTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ProfileModel{}).
			Where("user_id = ? AND tokens >= ?", entry.UserID, entry.Amount).
			Updates(map[string]any{
				"tokens":     gorm.Expr("tokens - ?", entry.Amount),
				"updated_at": entry.CreatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientTokens
		}
		balance, err := readBalance(tx, entry.UserID)
		if err != nil {
			return err
		}
		entry.BalanceAfter = balance
		return insertTransaction(tx, entry)
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	return entry, nil
}

// CreditTokens increments the balance, creating the profile on demand.
func (s *GormStore) CreditTokens(ctx context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = creditInTx(tx, entry)
		return err
	})
	if err != nil {
		return domain.TokenTransaction{}, err
	}
	return entry, nil
}

func creditInTx(tx *gorm.DB, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	seed := ProfileModel{
		UserID:    entry.UserID,
		Role:      string(domain.RoleUser),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.CreatedAt,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return entry, err
	}
	if err := tx.Model(&ProfileModel{}).
		Where("user_id = ?", entry.UserID).
		Updates(map[string]any{
			"tokens":     gorm.Expr("tokens + ?", entry.Amount),
			"updated_at": entry.CreatedAt,
		}).Error; err != nil {
		return entry, err
	}
	balance, err := readBalance(tx, entry.UserID)
	if err != nil {
		return entry, err
	}
	entry.BalanceAfter = balance
	return entry, insertTransaction(tx, entry)
}

func readBalance(tx *gorm.DB, userID string) (decimal.Decimal, error) {
	var model ProfileModel
	if err := tx.Select("tokens").First(&model, "user_id = ?", userID).Error; err != nil {
		return decimal.Decimal{}, err
	}
	return model.Tokens, nil
}

func insertTransaction(tx *gorm.DB, entry domain.TokenTransaction) error {
	model := transactionToModel(entry)
	if err := tx.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateTransaction
		}
		return err
	}
	return nil
}

// HasTransaction reports whether a ledger entry with the key exists.
func (s *GormStore) HasTransaction(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TokenTransactionModel{}).
		Where("idempotency_key = ?", idempotencyKey).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTransactions returns ledger entries, newest first.
func (s *GormStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.TokenTransaction, error) {
	tx := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.UserID != "" {
		tx = tx.Where("user_id = ?", filter.UserID)
	}
	if filter.Kind != "" {
		tx = tx.Where("kind = ?", string(filter.Kind))
	}
	var models []TokenTransactionModel
	if err := tx.Limit(clampLimit(filter.Limit, 50, 500)).Offset(filter.Offset).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.TokenTransaction, 0, len(models))
	for _, m := range models {
		res = append(res, transactionFromModel(m))
	}
	return res, nil
}
