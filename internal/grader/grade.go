package grader

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/sells-group/autograder/internal/llmjson"
	"github.com/sells-group/autograder/internal/model"
	"github.com/sells-group/autograder/pkg/anthropic"
)

// GradingSystem builds the system blocks shared by every grading call of a
// run: the grader instructions plus the full answer key and rubric, with a
// cache breakpoint so the key and rubric are only paid for once.
func GradingSystem(key []model.KeyEntry, rubric []model.RubricEntry) []anthropic.SystemBlock {
	texts := []string{gradeSystem, gradeKeyMarkdown(key)}
	if md := gradeRubricMarkdown(rubric); md != "" {
		texts = append(texts, md)
	}
	return anthropic.BuildCachedSystemBlocks(texts...)
}

// flexFloat tolerates numbers the model quotes as strings, which the
// grading contract forbids but models do anyway.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(bytes.Trim(data, `"`))))
	*b = flexBool(s == "true" || s == "yes" || s == "1")
	return nil
}

type gradedQuestion struct {
	QuestionNumber string    `json:"question_number"`
	QuestionText   string    `json:"question_text"`
	StudentAnswer  string    `json:"student_answer"`
	CorrectAnswer  string    `json:"correct_answer"`
	PointsAwarded  flexFloat `json:"points_awarded"`
	TotalPoints    flexFloat `json:"total_points"`
	Explanation    string    `json:"llm_explanation"`
	NeedsHumanEval flexBool  `json:"needs_human_eval"`
}

// GradeSubmission grades one submission against the full answer key in a
// single call and explodes the response into per-question rows. The result
// always has exactly one row per key entry; questions the model skipped are
// flagged for human review rather than silently dropped.
func GradeSubmission(ctx context.Context, deps Deps, system []anthropic.SystemBlock, sub model.Submission, key []model.KeyEntry, pass int) ([]model.Grade, error) {
	raw, err := invoke(ctx, deps, "grades", system, gradeUser(sub.Markdown))
	if err != nil {
		return nil, err
	}

	var parsed []gradedQuestion
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	byNumber := make(map[string]gradedQuestion, len(parsed))
	for i, g := range parsed {
		num := normalizeNumber(g.QuestionNumber)
		if num == "" && i < len(key) {
			// Some responses omit question_number; fall back to
			// positional alignment with the key.
			num = normalizeNumber(key[i].QuestionNumber)
		}
		byNumber[num] = g
	}

	grades := make([]model.Grade, len(key))
	for i, k := range key {
		g, ok := byNumber[normalizeNumber(k.QuestionNumber)]
		if !ok {
			grades[i] = reviewGrade(sub.SubmissionID, k, pass, "no grade returned for this question")
			continue
		}

		total := float64(g.TotalPoints)
		if total <= 0 {
			total = k.Points
		}
		awarded := float64(g.PointsAwarded)
		if awarded > total {
			awarded = total
		}

		grades[i] = model.Grade{
			SubmissionID:   sub.SubmissionID,
			QuestionNumber: k.QuestionNumber,
			Pass:           pass,
			QuestionText:   k.QuestionText,
			StudentAnswer:  strings.TrimSpace(g.StudentAnswer),
			CorrectAnswer:  k.CorrectAnswer,
			PointsAwarded:  awarded,
			TotalPoints:    total,
			Explanation:    strings.TrimSpace(g.Explanation),
			NeedsHumanEval: bool(g.NeedsHumanEval),
		}
	}
	return grades, nil
}

// FallbackGrades is the row set recorded when grading a submission failed
// outright: zero points everywhere, every question flagged for review.
func FallbackGrades(sub model.Submission, key []model.KeyEntry, pass int, err error) []model.Grade {
	grades := make([]model.Grade, len(key))
	for i, k := range key {
		grades[i] = reviewGrade(sub.SubmissionID, k, pass, "grading failed: "+err.Error())
	}
	return grades
}

func reviewGrade(submissionID string, k model.KeyEntry, pass int, reason string) model.Grade {
	return model.Grade{
		SubmissionID:   submissionID,
		QuestionNumber: k.QuestionNumber,
		Pass:           pass,
		QuestionText:   k.QuestionText,
		CorrectAnswer:  k.CorrectAnswer,
		TotalPoints:    k.Points,
		Explanation:    reason,
		NeedsHumanEval: true,
	}
}
