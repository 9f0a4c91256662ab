package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// schemaLockKey serializes migrations across replicas starting together.
const schemaLockKey int64 = 51840207

var schema = []any{
	&ProfileModel{},
	&InterviewModel{},
	&JobModel{},
	&QAVersionModel{},
	&ReportModel{},
	&TokenTransactionModel{},
}

// migrate applies the schema in one transaction holding a
// transaction-scoped advisory lock.
func migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", schemaLockKey).Error; err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}
		if err := tx.AutoMigrate(schema...); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
		return nil
	})
}
