package app

import (
	"fmt"
	"strings"

	"interviewprep/pkg/domain"
)

const systemPrompt = `You are an experienced hiring manager preparing a candidate for a job interview.
Respond with a single JSON value and nothing else. Do not wrap it in markdown.`

var categoryDescriptions = map[string]string{
	domain.CategoryGeneralPersonality:     "general personality and motivation questions about the candidate",
	domain.CategoryCoverLetterPersonality: "questions that dig into specific claims made in the cover letter",
	domain.CategoryJobCompetency:          "questions that test skills and experience required by the position",
}

// generationContext is everything a prompt may draw on.
type generationContext struct {
	interview domain.Interview
	source    domain.QAVersion
	previous  []string
}

func buildPrompt(job domain.Job, gc generationContext) (string, error) {
	var b strings.Builder
	writeInterview(&b, gc.interview)

	switch job.Type.Canonical() {
	case domain.JobQuestionsGenerated:
		b.WriteString("Write interview questions in three categories:\n")
		for _, c := range domain.Categories {
			fmt.Fprintf(&b, "- %q: %s\n", c, categoryDescriptions[c])
		}
		fmt.Fprintf(&b, "Each category must contain exactly %d distinct, non-empty questions.\n", domain.QuestionsPerCategory)
		fmt.Fprintf(&b, "The first %q question must ask the candidate to introduce themselves.\n", domain.CategoryGeneralPersonality)
		if len(gc.previous) > 0 {
			b.WriteString("Do not repeat any of these earlier questions:\n")
			for _, q := range gc.previous {
				fmt.Fprintf(&b, "- %s\n", q)
			}
		}
		writeComment(&b, job.Input.Comment)
		b.WriteString(`Return {"general_personality": [...], "cover_letter_personality": [...], "job_competency": [...]}.`)

	case domain.JobAnswersGenerated:
		b.WriteString("Write a model answer, in the candidate's voice, for each question below.\n")
		for _, ref := range job.Input.Items {
			fmt.Fprintf(&b, "- category=%q index=%d: %s\n", ref.Category, ref.Index, gc.source.Question(ref))
		}
		writeComment(&b, job.Input.Comment)
		b.WriteString(`Return {"answers": [{"category": "...", "index": 0, "answer": "..."}]} with one entry per question.`)

	case domain.JobQuestionEdited, domain.JobQuestionRegenerated:
		ref, err := job.Input.SlotRef()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Category %q: %s.\n", ref.Category, categoryDescriptions[ref.Category])
		fmt.Fprintf(&b, "Current question: %s\n", gc.source.Question(ref))
		if job.Type.NeedsComment() {
			b.WriteString("Rewrite the question following this feedback.\n")
			writeComment(&b, job.Input.Comment)
		} else {
			b.WriteString("Replace it with a different question of the same category.\n")
		}
		b.WriteString(`Return {"text": "..."}.`)

	case domain.JobAnswerEdited, domain.JobAnswerRegenerated:
		ref, err := job.Input.SlotRef()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Question: %s\n", gc.source.Question(ref))
		if current := gc.source.Answer(ref); current != "" {
			fmt.Fprintf(&b, "Current answer: %s\n", current)
		}
		if job.Type.NeedsComment() {
			b.WriteString("Rewrite the answer following this feedback.\n")
			writeComment(&b, job.Input.Comment)
		} else {
			b.WriteString("Write a new model answer in the candidate's voice.\n")
		}
		b.WriteString(`Return {"text": "..."}.`)

	default:
		return "", fmt.Errorf("no prompt for job type %q", job.Type)
	}
	return b.String(), nil
}

func writeInterview(b *strings.Builder, iv domain.Interview) {
	fmt.Fprintf(b, "Company: %s\nPosition: %s\n\nResume:\n%s\n\nCover letter:\n%s\n\n",
		iv.Company, iv.Position, iv.Resume, iv.CoverLetter)
}

func writeComment(b *strings.Builder, comment string) {
	if comment = strings.TrimSpace(comment); comment != "" {
		fmt.Fprintf(b, "User request: %s\n", comment)
	}
}

// previousQuestions lists every question already generated for the interview.
func previousQuestions(versions []domain.QAVersion) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range versions {
		for _, ref := range domain.AllSlots() {
			q := v.Question(ref)
			if q == "" {
				continue
			}
			if _, ok := seen[q]; ok {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}
