package grader

import (
	"context"

	"github.com/sells-group/autograder/internal/llmjson"
	"github.com/sells-group/autograder/internal/model"
)

// defaultPoints is assumed when a generated key has no point value to draw
// from. Provided keys carry their own points.
const defaultPoints = 10

type providedKeyEntry struct {
	QuestionNumber string  `json:"question_number"`
	QuestionText   string  `json:"question_text"`
	Points         float64 `json:"points"`
	CorrectAnswer  string  `json:"provided_correct_answer"`
}

// FormatProvidedKey structures a teacher-provided answer key document into
// per-question rows. The model is told to transcribe, never to solve.
func FormatProvidedKey(ctx context.Context, deps Deps, markdown string) ([]model.KeyEntry, error) {
	raw, err := invoke(ctx, deps, "answer_key", systemBlock(formatKeySystem), formatKeyUser(markdown))
	if err != nil {
		return nil, err
	}

	var parsed []providedKeyEntry
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, llmjson.Missing(raw, "question_number")
	}

	entries := make([]model.KeyEntry, len(parsed))
	for i, p := range parsed {
		points := p.Points
		if points <= 0 {
			points = defaultPoints
		}
		entries[i] = model.KeyEntry{
			QuestionNumber: p.QuestionNumber,
			QuestionText:   p.QuestionText,
			Points:         points,
			CorrectAnswer:  p.CorrectAnswer,
		}
	}
	return entries, nil
}

type solvedAttempt struct {
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

// SolveAttempt makes one independent attempt at answering a question. The
// orchestrator fans out KeyAttempts of these per question and consolidates
// the results with ConsolidateKey.
func SolveAttempt(ctx context.Context, deps Deps, q model.Question, attempt int) (model.KeyAttempt, error) {
	raw, err := invoke(ctx, deps, "key_attempts", systemBlock(solveAttemptSystem), solveAttemptUser(q))
	if err != nil {
		return model.KeyAttempt{}, err
	}

	var parsed solvedAttempt
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return model.KeyAttempt{}, err
	}
	if parsed.Answer == "" {
		return model.KeyAttempt{}, llmjson.Missing(raw, "answer")
	}

	return model.KeyAttempt{
		QuestionNumber: q.QuestionNumber,
		AttemptNumber:  attempt,
		Answer:         parsed.Answer,
		Explanation:    parsed.Explanation,
	}, nil
}

type bestAnswer struct {
	BestAnswer      string `json:"best_answer"`
	BestExplanation string `json:"best_explanation"`
}

// ConsolidateKey picks the best of several solution attempts for one
// question and returns the resulting answer key row.
func ConsolidateKey(ctx context.Context, deps Deps, q model.Question, attempts []model.KeyAttempt) (model.KeyEntry, error) {
	raw, err := invoke(ctx, deps, "answer_key", systemBlock(consolidateKeySystem), consolidateKeyUser(q, attempts))
	if err != nil {
		return model.KeyEntry{}, err
	}

	var parsed bestAnswer
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return model.KeyEntry{}, err
	}
	if parsed.BestAnswer == "" {
		return model.KeyEntry{}, llmjson.Missing(raw, "best_answer")
	}

	return model.KeyEntry{
		QuestionNumber: q.QuestionNumber,
		QuestionText:   q.QuestionText,
		Points:         defaultPoints,
		CorrectAnswer:  parsed.BestAnswer,
		Explanation:    parsed.BestExplanation,
	}, nil
}
