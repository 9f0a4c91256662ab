package domain

import (
	"fmt"
	"strings"
)

const (
	CategoryGeneralPersonality     = "general_personality"
	CategoryCoverLetterPersonality = "cover_letter_personality"
	CategoryJobCompetency          = "job_competency"

	// QuestionsPerCategory is the fixed size of every category list.
	QuestionsPerCategory = 10
)

// Categories lists question categories in display order.
var Categories = []string{
	CategoryGeneralPersonality,
	CategoryCoverLetterPersonality,
	CategoryJobCompetency,
}

// ValidCategory reports whether name is a known category.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// ValidSlot reports whether ref addresses a cell inside a full set.
func ValidSlot(ref ItemRef) bool {
	return ValidCategory(ref.Category) && ref.Index >= 0 && ref.Index < QuestionsPerCategory
}

// AllSlots returns every (category, index) pair in display order.
func AllSlots() []ItemRef {
	out := make([]ItemRef, 0, len(Categories)*QuestionsPerCategory)
	for _, c := range Categories {
		for i := 0; i < QuestionsPerCategory; i++ {
			out = append(out, ItemRef{Category: c, Index: i})
		}
	}
	return out
}

// EmptyAnswers returns an answer grid with every slot unset.
func EmptyAnswers() map[string][]string {
	out := make(map[string][]string, len(Categories))
	for _, c := range Categories {
		out[c] = make([]string, QuestionsPerCategory)
	}
	return out
}

// CellText returns the trimmed content of one cell, or "" when the slot is absent.
func CellText(grid map[string][]string, ref ItemRef) string {
	items, ok := grid[ref.Category]
	if !ok || ref.Index < 0 || ref.Index >= len(items) {
		return ""
	}
	return strings.TrimSpace(items[ref.Index])
}

// CloneGrid deep-copies a category grid, padding every known category to full size.
func CloneGrid(grid map[string][]string) map[string][]string {
	out := make(map[string][]string, len(Categories))
	for _, c := range Categories {
		items := make([]string, QuestionsPerCategory)
		copy(items, grid[c])
		out[c] = items
	}
	return out
}

func (v QAVersion) Question(ref ItemRef) string {
	return CellText(v.Questions, ref)
}

func (v QAVersion) Answer(ref ItemRef) string {
	return CellText(v.Answers, ref)
}

func (t JobType) Valid() bool {
	switch t {
	case JobQuestionsGenerated, JobAnswersGenerated,
		JobQuestionEdited, JobQuestionRegenerated,
		JobAnswerEdited, JobAnswerRegenerated,
		JobQuestion, JobAnswer:
		return true
	}
	return false
}

// Canonical maps the simplified single-item types onto their regenerate variants.
func (t JobType) Canonical() JobType {
	switch t {
	case JobQuestion:
		return JobQuestionRegenerated
	case JobAnswer:
		return JobAnswerRegenerated
	}
	return t
}

// SingleItem reports whether the job rewrites exactly one cell.
func (t JobType) SingleItem() bool {
	switch t.Canonical() {
	case JobQuestionEdited, JobQuestionRegenerated, JobAnswerEdited, JobAnswerRegenerated:
		return true
	}
	return false
}

// ItemKind returns which grid a single-item job writes to.
func (t JobType) ItemKind() ItemKind {
	switch t.Canonical() {
	case JobAnswerEdited, JobAnswerRegenerated, JobAnswersGenerated:
		return ItemAnswer
	}
	return ItemQuestion
}

func (t JobType) NeedsComment() bool {
	c := t.Canonical()
	return c == JobQuestionEdited || c == JobAnswerEdited
}

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobProcessing
}

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportInReview, ReportResolved, ReportRejected:
		return true
	}
	return false
}

// SlotRef returns the single target slot of an edit/regenerate input.
func (in JobInput) SlotRef() (ItemRef, error) {
	if in.Index == nil {
		return ItemRef{}, fmt.Errorf("index is required")
	}
	ref := ItemRef{Category: strings.TrimSpace(in.Category), Index: *in.Index}
	if !ValidSlot(ref) {
		return ItemRef{}, fmt.Errorf("invalid slot %s[%d]", ref.Category, ref.Index)
	}
	return ref, nil
}

// MissingFields lists required interview fields that are blank.
func (iv Interview) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(iv.Company) == "" {
		missing = append(missing, "company")
	}
	if strings.TrimSpace(iv.Position) == "" {
		missing = append(missing, "position")
	}
	if strings.TrimSpace(iv.Resume) == "" {
		missing = append(missing, "resume")
	}
	if strings.TrimSpace(iv.CoverLetter) == "" {
		missing = append(missing, "coverLetter")
	}
	return missing
}

// Find returns the item list and position for (kind, category, index).
func (items *ReportItems) Find(kind ItemKind, category string, index int) (*ReportItem, bool) {
	list := items.Questions
	if kind == ItemAnswer {
		list = items.Answers
	}
	for i := range list {
		if list[i].Category == category && list[i].Index == index {
			return &list[i], true
		}
	}
	return nil, false
}

// Count returns the number of flagged cells.
func (items ReportItems) Count() int {
	return len(items.Questions) + len(items.Answers)
}
