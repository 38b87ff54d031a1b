// Package grader implements the per-item LLM workers for each pipeline
// stage: question extraction, answer splitting, answer-key synthesis,
// rubric synthesis, grading, and feedback roll-up. Every worker goes
// through the same gate/ledger path and parses responses with llmjson.
package grader

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autograder/internal/rategate"
	"github.com/sells-group/autograder/internal/tokens"
	"github.com/sells-group/autograder/pkg/anthropic"
)

// Deps bundles what every worker needs to issue one LLM call.
type Deps struct {
	Client    anthropic.Client
	Gate      *rategate.Gate
	Ledger    *tokens.Ledger
	Model     string
	MaxTokens int64
}

// invoke sends one chat-completion request through the rate gate, records
// usage against the stage, and returns the response text.
func invoke(ctx context.Context, deps Deps, stageName string, system []anthropic.SystemBlock, user string) (string, error) {
	est := tokens.Estimate(user)
	for _, b := range system {
		est += tokens.Estimate(b.Text)
	}

	release, err := deps.Gate.Acquire(ctx, est)
	if err != nil {
		return "", err
	}
	defer release()

	resp, err := deps.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     deps.Model,
		MaxTokens: deps.MaxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", eris.Wrapf(err, "grader: %s call", stageName)
	}

	deps.Ledger.Add(stageName, resp.Usage.Total())
	return resp.Text(), nil
}

func systemBlock(text string) []anthropic.SystemBlock {
	return []anthropic.SystemBlock{{Text: text}}
}
