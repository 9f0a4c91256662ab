package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type Profile struct {
	UserID    string          `json:"userId"`
	Email     string          `json:"email,omitempty"`
	Role      UserRole        `json:"role"`
	Tokens    decimal.Decimal `json:"tokens"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type Interview struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Company     string    `json:"company"`
	Position    string    `json:"position"`
	Resume      string    `json:"resume"`
	CoverLetter string    `json:"coverLetter"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type JobType string

const (
	JobQuestionsGenerated  JobType = "questions_generated"
	JobAnswersGenerated    JobType = "answers_generated"
	JobQuestionEdited      JobType = "question_edited"
	JobQuestionRegenerated JobType = "question_regenerated"
	JobAnswerEdited        JobType = "answer_edited"
	JobAnswerRegenerated   JobType = "answer_regenerated"
	JobQuestion            JobType = "question"
	JobAnswer              JobType = "answer"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

type ItemKind string

const (
	ItemQuestion ItemKind = "question"
	ItemAnswer   ItemKind = "answer"
)

// ItemRef addresses one generated cell.
type ItemRef struct {
	Category string `json:"category"`
	Index    int    `json:"index"`
}

type JobInput struct {
	QAVersionID string    `json:"qaVersionId,omitempty"`
	Category    string    `json:"category,omitempty"`
	Index       *int      `json:"index,omitempty"`
	Items       []ItemRef `json:"items,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	AvoidRepeat bool      `json:"avoidRepeat,omitempty"`
}

type JobResult struct {
	QAVersionID string          `json:"qaVersionId"`
	TokensUsed  decimal.Decimal `json:"tokensUsed"`
}

type Job struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	InterviewID  string          `json:"interviewId"`
	Type         JobType         `json:"type"`
	Status       JobStatus       `json:"status"`
	Cost         decimal.Decimal `json:"cost"`
	Input        JobInput        `json:"input"`
	Result       *JobResult      `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type TargetItems struct {
	Questions []ItemRef `json:"questions"`
	Answers   []ItemRef `json:"answers"`
}

type QAVersion struct {
	ID          string              `json:"id"`
	InterviewID string              `json:"interviewId"`
	UserID      string              `json:"userId"`
	JobID       string              `json:"jobId,omitempty"`
	Questions   map[string][]string `json:"questions"`
	Answers     map[string][]string `json:"answers"`
	IsDefault   bool                `json:"isDefault"`
	Type        JobType             `json:"type"`
	ParentID    string              `json:"parentQaId,omitempty"`
	TargetItems TargetItems         `json:"targetItems"`
	TokensUsed  decimal.Decimal     `json:"tokensUsed"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportInReview ReportStatus = "in_review"
	ReportResolved ReportStatus = "resolved"
	ReportRejected ReportStatus = "rejected"
)

type ReportItem struct {
	Category     string          `json:"category"`
	Index        int             `json:"index"`
	Refunded     bool            `json:"refunded"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
	RefundedAt   *time.Time      `json:"refundedAt,omitempty"`
}

type ReportItems struct {
	Questions []ReportItem `json:"questions"`
	Answers   []ReportItem `json:"answers"`
}

type Report struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	InterviewID   string       `json:"interviewId"`
	QAVersionID   string       `json:"interviewQasId"`
	Items         ReportItems  `json:"items"`
	Description   string       `json:"description"`
	Status        ReportStatus `json:"status"`
	AdminResponse string       `json:"adminResponse,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type TransactionKind string

const (
	TxSpend  TransactionKind = "spend"
	TxRefund TransactionKind = "refund"
	TxGrant  TransactionKind = "grant"
)

type TokenTransaction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Kind           TransactionKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	BalanceAfter   decimal.Decimal `json:"balanceAfter"`
	Reason         string          `json:"reason,omitempty"`
	JobID          string          `json:"jobId,omitempty"`
	ReportID       string          `json:"reportId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
}
