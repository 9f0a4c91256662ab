package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"interviewprep/pkg/domain"
)

// ErrInvalidOutput marks model output that failed validation.
var ErrInvalidOutput = errors.New("invalid model output")

func outputErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOutput, fmt.Sprintf(format, args...))
}

// extractJSON strips markdown fences and surrounding chatter, returning the
// outermost JSON object.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", outputErrorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

// parseQuestionSet requires exactly the known categories, each with exactly
// QuestionsPerCategory non-empty questions. A {"questions": {...}} wrapper is
// accepted.
func parseQuestionSet(raw string) (map[string][]string, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var set map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &set); err != nil {
		return nil, outputErrorf("decode question set: %v", err)
	}
	if inner, ok := set["questions"]; ok && len(set) == 1 {
		set = nil
		if err := json.Unmarshal(inner, &set); err != nil {
			return nil, outputErrorf("decode question set: %v", err)
		}
	}
	if len(set) != len(domain.Categories) {
		return nil, outputErrorf("expected %d categories, got %d", len(domain.Categories), len(set))
	}
	out := make(map[string][]string, len(domain.Categories))
	for _, c := range domain.Categories {
		rawItems, ok := set[c]
		if !ok {
			return nil, outputErrorf("missing category %s", c)
		}
		var items []string
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return nil, outputErrorf("category %s is not a list of strings", c)
		}
		if len(items) != domain.QuestionsPerCategory {
			return nil, outputErrorf("category %s has %d items, want %d", c, len(items), domain.QuestionsPerCategory)
		}
		for i, q := range items {
			q = strings.TrimSpace(q)
			if q == "" {
				return nil, outputErrorf("category %s item %d is empty", c, i)
			}
			items[i] = q
		}
		out[c] = items
	}
	return out, nil
}

type generatedAnswer struct {
	Category string `json:"category"`
	Index    int    `json:"index"`
	Answer   string `json:"answer"`
}

// parseAnswers requires exactly one non-empty answer for every target.
func parseAnswers(raw string, targets []domain.ItemRef) (map[domain.ItemRef]string, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Answers []generatedAnswer `json:"answers"`
	}
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, outputErrorf("decode answers: %v", err)
	}
	want := make(map[domain.ItemRef]struct{}, len(targets))
	for _, ref := range targets {
		want[ref] = struct{}{}
	}
	out := make(map[domain.ItemRef]string, len(targets))
	for _, a := range payload.Answers {
		ref := domain.ItemRef{Category: strings.TrimSpace(a.Category), Index: a.Index}
		if _, ok := want[ref]; !ok {
			return nil, outputErrorf("unexpected answer for %s[%d]", ref.Category, ref.Index)
		}
		if _, dup := out[ref]; dup {
			return nil, outputErrorf("duplicate answer for %s[%d]", ref.Category, ref.Index)
		}
		text := strings.TrimSpace(a.Answer)
		if text == "" {
			return nil, outputErrorf("answer for %s[%d] is empty", ref.Category, ref.Index)
		}
		out[ref] = text
	}
	if len(out) != len(want) {
		return nil, outputErrorf("got %d answers, want %d", len(out), len(want))
	}
	return out, nil
}

// parseSingleItem accepts {"text": "..."} (or a "question"/"answer" key) or a
// bare JSON string, and requires non-empty content.
func parseSingleItem(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	var text string
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal([]byte(s), &text); err != nil {
			return "", outputErrorf("decode item: %v", err)
		}
	} else {
		obj, err := extractJSON(s)
		if err != nil {
			return "", err
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(obj), &fields); err != nil {
			return "", outputErrorf("decode item: %v", err)
		}
		for _, key := range []string{"text", "question", "answer"} {
			if v, ok := fields[key].(string); ok {
				text = v
				break
			}
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", outputErrorf("empty item")
	}
	return text, nil
}
