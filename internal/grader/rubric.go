package grader

import (
	"context"
	"strings"

	"github.com/sells-group/autograder/internal/llmjson"
	"github.com/sells-group/autograder/internal/model"
)

type providedRubricEntry struct {
	QuestionNumber string  `json:"question_number"`
	Points         float64 `json:"points"`
	Rubric         string  `json:"rubric"`
}

// FormatProvidedRubric structures a teacher-provided rubric document into
// per-question rows, aligned to the answer key's question numbers.
func FormatProvidedRubric(ctx context.Context, deps Deps, markdown string, key []model.KeyEntry) ([]model.RubricEntry, error) {
	raw, err := invoke(ctx, deps, "rubric", systemBlock(formatRubricSystem), formatRubricUser(markdown, key))
	if err != nil {
		return nil, err
	}

	var parsed []providedRubricEntry
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, llmjson.Missing(raw, "rubric")
	}

	byNumber := make(map[string]providedRubricEntry, len(parsed))
	for _, p := range parsed {
		byNumber[normalizeNumber(p.QuestionNumber)] = p
	}

	// Key order wins; points fall back to the key's when the rubric
	// document omits them.
	entries := make([]model.RubricEntry, len(key))
	for i, k := range key {
		p := byNumber[normalizeNumber(k.QuestionNumber)]
		points := p.Points
		if points <= 0 {
			points = k.Points
		}
		entries[i] = model.RubricEntry{
			QuestionNumber: k.QuestionNumber,
			Points:         points,
			Rubric:         p.Rubric,
		}
	}
	return entries, nil
}

// GenerateRubric drafts a grading rubric for one question from the answer
// key entry and a sample of real student answers, then refines it against a
// second sample. Rubric text comes back as markdown, not JSON.
func GenerateRubric(ctx context.Context, deps Deps, key model.KeyEntry, samples, validation []string) (model.RubricEntry, error) {
	raw, err := invoke(ctx, deps, "rubric", systemBlock(generateRubricSystem), generateRubricUser(key, samples))
	if err != nil {
		return model.RubricEntry{}, err
	}

	rubric := strings.TrimSpace(llmjson.Extract(raw))
	if rubric == "" {
		return model.RubricEntry{}, llmjson.Missing(raw, "rubric")
	}

	if len(validation) > 0 {
		rubric, err = validateRubric(ctx, deps, key, rubric, validation)
		if err != nil {
			return model.RubricEntry{}, err
		}
	}

	return model.RubricEntry{
		QuestionNumber: key.QuestionNumber,
		Points:         key.Points,
		Rubric:         rubric,
	}, nil
}

// validateRubric asks whether the draft rubric covers a fresh batch of
// student answers. "adequate" keeps the draft; anything else replaces it.
func validateRubric(ctx context.Context, deps Deps, key model.KeyEntry, current string, samples []string) (string, error) {
	raw, err := invoke(ctx, deps, "rubric", systemBlock(validateRubricSystem), validateRubricUser(key, current, samples))
	if err != nil {
		return "", err
	}

	resp := strings.TrimSpace(raw)
	if strings.EqualFold(strings.Trim(resp, `."'`), "adequate") {
		return current, nil
	}
	return resp, nil
}
