// Package model defines the typed rows that flow between pipeline stages.
// Each stage produces exactly one row type, which is also the shape of its
// checkpoint artifact.
package model

import (
	"strconv"
	"strings"
)

// Submission is one ingested student document converted to markdown.
type Submission struct {
	FileName     string `csv:"file_name"`
	SubmissionID string `csv:"submission_id"`
	Markdown     string `csv:"markdown"`
}

// Question is one question found in a submission.
type Question struct {
	SubmissionID   string `csv:"submission_id"`
	QuestionNumber string `csv:"question_number"`
	QuestionText   string `csv:"question_text"`
}

// Answer is one student's answer to one question, split out of their
// submission text.
type Answer struct {
	SubmissionID   string `csv:"submission_id"`
	QuestionNumber string `csv:"question_number"`
	QuestionText   string `csv:"question_text"`
	AnswerText     string `csv:"answer_text"`
}

// PageHit records which submission pages are most relevant to a question,
// found by embedding similarity.
type PageHit struct {
	SubmissionID   string `csv:"submission_id"`
	QuestionNumber string `csv:"question_number"`
	Pages          string `csv:"pages"` // semicolon-separated 1-based page numbers
}

// PageList parses the Pages field into page numbers.
func (h PageHit) PageList() []int {
	if h.Pages == "" {
		return nil
	}
	parts := strings.Split(h.Pages, ";")
	pages := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		pages = append(pages, n)
	}
	return pages
}

// FormatPages renders page numbers into the Pages field encoding.
func FormatPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ";")
}

// KeyAttempt is one independent attempt at solving a question while
// generating an answer key.
type KeyAttempt struct {
	QuestionNumber string `csv:"question_number"`
	AttemptNumber  int    `csv:"attempt_number"`
	Answer         string `csv:"answer"`
	Explanation    string `csv:"explanation"`
}

// KeyEntry is one question of the answer key, either formatted from a
// provided key document or consolidated from generated attempts.
type KeyEntry struct {
	QuestionNumber string  `csv:"question_number"`
	QuestionText   string  `csv:"question_text"`
	Points         float64 `csv:"points"`
	CorrectAnswer  string  `csv:"correct_answer"`
	Explanation    string  `csv:"explanation"`
}

// RubricEntry is the grading rubric for one question.
type RubricEntry struct {
	QuestionNumber string  `csv:"question_number"`
	Points         float64 `csv:"points"`
	Rubric         string  `csv:"rubric"`
}

// Grade is the grading result for one (submission, question) pair.
// Rows produced from a failed grading call carry zero points and
// NeedsHumanEval set, never missing fields.
type Grade struct {
	SubmissionID   string  `csv:"submission_id"`
	QuestionNumber string  `csv:"question_number"`
	Pass           int     `csv:"pass"`
	QuestionText   string  `csv:"question_text"`
	StudentAnswer  string  `csv:"student_answer"`
	CorrectAnswer  string  `csv:"correct_answer"`
	PointsAwarded  float64 `csv:"points_awarded"`
	TotalPoints    float64 `csv:"total_points"`
	Explanation    string  `csv:"llm_explanation"`
	NeedsHumanEval bool    `csv:"needs_human_eval"`
}

// Feedback is the rolled-up feedback for one submission.
type Feedback struct {
	SubmissionID    string `csv:"submission_id"`
	OverallFeedback string `csv:"overall_feedback"`
}
