package grader

import (
	"context"

	"github.com/sells-group/autograder/internal/llmjson"
	"github.com/sells-group/autograder/internal/model"
)

type overallFeedback struct {
	OverallFeedback string `json:"overall_feedback"`
}

// CompileFeedback rolls one submission's per-question grades up into a
// short piece of overall feedback for the student.
func CompileFeedback(ctx context.Context, deps Deps, submissionID string, grades []model.Grade) (model.Feedback, error) {
	raw, err := invoke(ctx, deps, "feedback", systemBlock(feedbackSystem), feedbackUser(submissionID, grades))
	if err != nil {
		return model.Feedback{}, err
	}

	var parsed overallFeedback
	if err := llmjson.Unmarshal(raw, &parsed); err != nil {
		return model.Feedback{}, err
	}
	if parsed.OverallFeedback == "" {
		return model.Feedback{}, llmjson.Missing(raw, "overall_feedback")
	}

	return model.Feedback{
		SubmissionID:    submissionID,
		OverallFeedback: parsed.OverallFeedback,
	}, nil
}
