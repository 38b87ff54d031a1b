package grader

import (
	"context"
	"strings"

	"github.com/sells-group/autograder/internal/llmjson"
	"github.com/sells-group/autograder/internal/model"
)

type extractedQuestion struct {
	QuestionNumber string `json:"question_number"`
	QuestionText   string `json:"question_text"`
}

// ExtractQuestions finds the questions in one document's markdown.
func ExtractQuestions(ctx context.Context, deps Deps, sub model.Submission) ([]model.Question, error) {
	raw, err := invoke(ctx, deps, "extract_questions", systemBlock(extractQuestionsSystem), extractQuestionsUser(sub.Markdown))
	if err != nil {
		return nil, err
	}

	var parsed []extractedQuestion
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	questions := make([]model.Question, 0, len(parsed))
	for _, q := range parsed {
		if q.QuestionText == "" {
			continue
		}
		questions = append(questions, model.Question{
			SubmissionID:   sub.SubmissionID,
			QuestionNumber: q.QuestionNumber,
			QuestionText:   q.QuestionText,
		})
	}
	return questions, nil
}

type extractedAnswer struct {
	QuestionNumber string `json:"question_number"`
	QuestionText   string `json:"question_text"`
	AnswerText     string `json:"answer_text"`
}

// SplitAnswers pulls one student's answer to each question out of their
// submission markdown. The result always has exactly one row per question,
// in question order; questions the model did not return come back with an
// empty AnswerText.
func SplitAnswers(ctx context.Context, deps Deps, sub model.Submission, questions []model.Question) ([]model.Answer, error) {
	raw, err := invoke(ctx, deps, "extract_answers", systemBlock(splitAnswersSystem), splitAnswersUser(sub.Markdown, questions))
	if err != nil {
		return nil, err
	}

	var parsed []extractedAnswer
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	byNumber := make(map[string]string, len(parsed))
	for _, a := range parsed {
		byNumber[normalizeNumber(a.QuestionNumber)] = a.AnswerText
	}

	answers := make([]model.Answer, len(questions))
	for i, q := range questions {
		answers[i] = model.Answer{
			SubmissionID:   sub.SubmissionID,
			QuestionNumber: q.QuestionNumber,
			QuestionText:   q.QuestionText,
			AnswerText:     byNumber[normalizeNumber(q.QuestionNumber)],
		}
	}
	return answers, nil
}

// EmptyAnswers is the fallback row set for a submission whose answer split
// failed: one row per question, all answers blank, so downstream stages keep
// their row accounting.
func EmptyAnswers(sub model.Submission, questions []model.Question) []model.Answer {
	answers := make([]model.Answer, len(questions))
	for i, q := range questions {
		answers[i] = model.Answer{
			SubmissionID:   sub.SubmissionID,
			QuestionNumber: q.QuestionNumber,
			QuestionText:   q.QuestionText,
		}
	}
	return answers
}

// normalizeNumber canonicalizes question numbers so "1A", " 1a " and "1a"
// all join. Models occasionally drift on case and whitespace even when told
// not to.
func normalizeNumber(n string) string {
	return strings.ToLower(strings.TrimSpace(n))
}
