package app

import (
	"github.com/shopspring/decimal"
	"interviewprep/pkg/domain"
)

var (
	questionSetCost = decimal.NewFromInt(3)
	answerSetCost   = decimal.NewFromInt(2)
	questionCost    = decimal.RequireFromString("0.1")
	answerCost      = decimal.RequireFromString("0.2")
)

// JobCost returns the token price of a job. Answer batches are priced per
// selected item and capped at the full-set price.
func JobCost(t domain.JobType, in domain.JobInput) decimal.Decimal {
	switch t.Canonical() {
	case domain.JobQuestionsGenerated:
		return questionSetCost
	case domain.JobAnswersGenerated:
		n := len(in.Items)
		if n == 0 {
			n = len(domain.Categories) * domain.QuestionsPerCategory
		}
		cost := answerCost.Mul(decimal.NewFromInt(int64(n)))
		if cost.GreaterThan(answerSetCost) {
			return answerSetCost
		}
		return cost
	case domain.JobQuestionEdited, domain.JobQuestionRegenerated:
		return questionCost
	case domain.JobAnswerEdited, domain.JobAnswerRegenerated:
		return answerCost
	}
	return decimal.Zero
}

// ItemRefundAmount is what one reported cell refunds.
func ItemRefundAmount(kind domain.ItemKind) decimal.Decimal {
	if kind == domain.ItemAnswer {
		return answerCost
	}
	return questionCost
}
