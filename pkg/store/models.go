package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProfileModel struct {
	UserID    string          `gorm:"primaryKey"`
	Email     string          `gorm:"index"`
	Role      string          `gorm:"not null;default:user"`
	Tokens    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0;check:profile_models_tokens_non_negative,tokens >= 0"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time
}

type InterviewModel struct {
	ID          string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;index"`
	Company     string    `gorm:"not null"`
	Position    string    `gorm:"not null"`
	Resume      string    `gorm:"type:text"`
	CoverLetter string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// JobModel carries a partial unique index so a user can never hold two active jobs.
type JobModel struct {
	ID           string          `gorm:"primaryKey"`
	UserID       string          `gorm:"not null;index;uniqueIndex:idx_job_models_one_active,where:status <> 'completed' AND status <> 'failed'"`
	InterviewID  string          `gorm:"not null;index"`
	Type         string          `gorm:"not null"`
	Status       string          `gorm:"not null;index"`
	Cost         decimal.Decimal `gorm:"type:numeric(12,2);not null;check:job_models_cost_non_negative,cost >= 0"`
	Input        datatypes.JSON  `gorm:"type:jsonb"`
	Result       datatypes.JSON  `gorm:"type:jsonb"`
	ErrorMessage string          `gorm:"type:text"`
	CreatedAt    time.Time       `gorm:"not null;index"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	UpdatedAt    time.Time `gorm:"not null"`
}

type QAVersionModel struct {
	ID            string          `gorm:"primaryKey"`
	InterviewID   string          `gorm:"not null;index;uniqueIndex:idx_qa_version_models_default,where:is_default"`
	UserID        string          `gorm:"not null;index"`
	JobID         string          `gorm:"index"`
	QuestionsData datatypes.JSON  `gorm:"type:jsonb;not null"`
	AnswersData   datatypes.JSON  `gorm:"type:jsonb"`
	IsDefault     bool            `gorm:"not null;default:false"`
	Type          string          `gorm:"not null"`
	ParentQAID    string          `gorm:"column:parent_qa_id"`
	TargetItems   datatypes.JSON  `gorm:"type:jsonb"`
	TokensUsed    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	CreatedAt     time.Time       `gorm:"not null;index"`
}

type ReportModel struct {
	ID            string         `gorm:"primaryKey"`
	UserID        string         `gorm:"not null;index"`
	InterviewID   string         `gorm:"not null;index"`
	QAVersionID   string         `gorm:"column:interview_qas_id;not null"`
	Items         datatypes.JSON `gorm:"type:jsonb;not null"`
	Description   string         `gorm:"type:text"`
	Status        string         `gorm:"not null;index"`
	AdminResponse string         `gorm:"type:text"`
	CreatedAt     time.Time      `gorm:"not null;index"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

type TokenTransactionModel struct {
	ID             string          `gorm:"primaryKey"`
	UserID         string          `gorm:"not null;index"`
	Kind           string          `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Reason         string
	JobID          string    `gorm:"index"`
	ReportID       string    `gorm:"index"`
	IdempotencyKey string    `gorm:"uniqueIndex;not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
