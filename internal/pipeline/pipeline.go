// Package pipeline orchestrates a grading run: ingest, question and answer
// extraction, answer key and rubric synthesis, grading, and feedback, each
// stage checkpointed so an interrupted run resumes where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autograder/internal/checkpoint"
	"github.com/sells-group/autograder/internal/config"
	"github.com/sells-group/autograder/internal/grader"
	"github.com/sells-group/autograder/internal/ingest"
	"github.com/sells-group/autograder/internal/locate"
	"github.com/sells-group/autograder/internal/model"
	"github.com/sells-group/autograder/internal/rategate"
	"github.com/sells-group/autograder/internal/stage"
	"github.com/sells-group/autograder/internal/tokens"
	"github.com/sells-group/autograder/pkg/anthropic"
	"github.com/sells-group/autograder/pkg/openai"
)

// Stage artifact names, in execution order.
const (
	StageIngest      = "ingest_submissions"
	StageQuestions   = "extract_questions"
	StageAnswers     = "extract_answers"
	StageLocate      = "locate_pages"
	StageKeyAttempts = "key_attempts"
	StageAnswerKey   = "answer_key"
	StageRubric      = "rubric"
	StageGrades      = "grades"
	StageFeedback    = "feedback"
)

// assignmentID is the synthetic submission ID used when questions come from
// a dedicated assignment document instead of a student submission.
const assignmentID = "assignment"

// MissingInputError indicates a required input file or directory that does
// not exist. It is reported before any stage runs.
type MissingInputError struct {
	Input string
	Path  string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("pipeline: %s not found at %s", e.Input, e.Path)
}

// RunOptions are the per-run inputs.
type RunOptions struct {
	// SubmissionsDir holds the student documents.
	SubmissionsDir string

	// AnswerKeyFile is an optional provided answer key document. When
	// empty the key is generated by solving each question.
	AnswerKeyFile string

	// RubricFile is an optional provided rubric document. When empty the
	// rubric is generated from sample student answers.
	RubricFile string

	// AssignmentFile is an optional blank assignment document. When set,
	// the canonical question list comes from it rather than from the
	// first student submission.
	AssignmentFile string

	// OutputFile receives the final grades CSV.
	OutputFile string

	// BackupDir receives a markdown copy of every converted document.
	BackupDir string

	// Passes is the number of independent grading passes. Defaults to 1.
	Passes int
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      *config.Config
	deps     grader.Deps
	usage    *trackingClient
	ingester *ingest.Ingester
	locator  *locate.Locator
	store    *checkpoint.Store
	ledger   *tokens.Ledger
}

// New assembles a Pipeline. embedder may be nil, in which case the page
// localization stage is skipped.
func New(cfg *config.Config, client anthropic.Client, ingester *ingest.Ingester, embedder openai.EmbeddingsClient, store *checkpoint.Store) *Pipeline {
	ledger := tokens.NewLedger()
	usage := newTrackingClient(client)

	p := &Pipeline{
		cfg:      cfg,
		usage:    usage,
		ingester: ingester,
		store:    store,
		ledger:   ledger,
		deps: grader.Deps{
			Client:    usage,
			Gate:      rategate.New(cfg.RateLimit),
			Ledger:    ledger,
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		},
	}
	if embedder != nil {
		p.locator = locate.New(embedder, cfg.Pipeline.TopKPages, cfg.Pipeline.Concurrency)
	}
	return p
}

// Run executes the full grading pipeline.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) error {
	if err := checkInputs(opts); err != nil {
		return err
	}
	if opts.Passes <= 0 {
		opts.Passes = 1
	}

	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("grading run started",
		zap.String("submissions", opts.SubmissionsDir),
		zap.String("model", p.cfg.Anthropic.Model),
		zap.Int("passes", opts.Passes),
	)

	subs, err := cached(p, ctx, StageIngest, func(ctx context.Context) ([]model.Submission, error) {
		return p.ingester.Directory(ctx, opts.SubmissionsDir, ingest.Options{
			Concurrency: p.cfg.Pipeline.Concurrency,
			BackupDir:   opts.BackupDir,
		})
	})
	if err != nil {
		return err
	}

	questions, err := p.extractQuestions(ctx, opts, subs)
	if err != nil {
		return err
	}
	canonical := canonicalQuestions(questions)
	if len(canonical) == 0 {
		return eris.New("pipeline: no questions could be extracted")
	}
	log.Info("canonical question set", zap.Int("questions", len(canonical)))

	answers, err := cached(p, ctx, StageAnswers, func(ctx context.Context) ([]model.Answer, error) {
		groups, err := stage.Run(ctx,
			stage.Options{Name: StageAnswers, Concurrency: p.concurrency()},
			subs,
			func(ctx context.Context, sub model.Submission) ([]model.Answer, error) {
				return grader.SplitAnswers(ctx, p.deps, sub, canonical)
			},
			func(sub model.Submission, err error) []model.Answer {
				return grader.EmptyAnswers(sub, canonical)
			},
		)
		if err != nil {
			return nil, err
		}
		return flatten(groups), nil
	})
	if err != nil {
		return err
	}

	if p.locator != nil {
		if _, err := cached(p, ctx, StageLocate, func(ctx context.Context) ([]model.PageHit, error) {
			return p.locator.Locate(ctx, subs, canonical, answers)
		}); err != nil {
			return err
		}
	}

	key, err := p.answerKey(ctx, opts, canonical)
	if err != nil {
		return err
	}

	rubric, err := p.rubric(ctx, opts, key, answers)
	if err != nil {
		return err
	}

	grades, err := p.grade(ctx, opts, subs, key, rubric)
	if err != nil {
		return err
	}

	feedback, err := p.feedback(ctx, subs, grades)
	if err != nil {
		return err
	}

	if err := p.writeOutput(opts.OutputFile, grades, feedback); err != nil {
		return err
	}

	p.report(log)
	log.Info("grading run complete",
		zap.Int("submissions", len(subs)),
		zap.Int("grade_rows", len(grades)),
		zap.String("output", opts.OutputFile),
	)
	return nil
}

func checkInputs(opts RunOptions) error {
	if info, err := os.Stat(opts.SubmissionsDir); err != nil || !info.IsDir() {
		return &MissingInputError{Input: "submissions directory", Path: opts.SubmissionsDir}
	}
	for _, in := range []struct{ name, path string }{
		{"answer key document", opts.AnswerKeyFile},
		{"rubric document", opts.RubricFile},
		{"assignment document", opts.AssignmentFile},
	} {
		if in.path == "" {
			continue
		}
		if _, err := os.Stat(in.path); err != nil {
			return &MissingInputError{Input: in.name, Path: in.path}
		}
	}
	return nil
}

func (p *Pipeline) concurrency() int {
	return p.cfg.Pipeline.Concurrency
}

// extractQuestions produces the question table. With an assignment document
// the table holds that document's questions under the assignment ID;
// otherwise every submission is mined and the first one's set is canonical.
func (p *Pipeline) extractQuestions(ctx context.Context, opts RunOptions, subs []model.Submission) ([]model.Question, error) {
	return cached(p, ctx, StageQuestions, func(ctx context.Context) ([]model.Question, error) {
		items := subs
		if opts.AssignmentFile != "" {
			md, err := p.ingester.File(ctx, opts.AssignmentFile)
			if err != nil {
				return nil, eris.Wrap(err, "pipeline: convert assignment document")
			}
			items = []model.Submission{{SubmissionID: assignmentID, Markdown: md}}
		}

		groups, err := stage.Run(ctx,
			stage.Options{Name: StageQuestions, Concurrency: p.concurrency()},
			items,
			func(ctx context.Context, sub model.Submission) ([]model.Question, error) {
				return grader.ExtractQuestions(ctx, p.deps, sub)
			},
			func(sub model.Submission, err error) []model.Question {
				return nil
			},
		)
		if err != nil {
			return nil, err
		}
		return flatten(groups), nil
	})
}

// canonicalQuestions picks the question set every later stage works from:
// all rows belonging to the first submission ID present in the table.
func canonicalQuestions(questions []model.Question) []model.Question {
	if len(questions) == 0 {
		return nil
	}
	first := questions[0].SubmissionID
	var out []model.Question
	for _, q := range questions {
		if q.SubmissionID == first {
			out = append(out, q)
		}
	}
	return out
}

// answerKey either formats a provided key document or synthesizes a key by
// solving each question several times and consolidating the attempts.
func (p *Pipeline) answerKey(ctx context.Context, opts RunOptions, questions []model.Question) ([]model.KeyEntry, error) {
	if opts.AnswerKeyFile != "" {
		return cached(p, ctx, StageAnswerKey, func(ctx context.Context) ([]model.KeyEntry, error) {
			md, err := p.ingester.File(ctx, opts.AnswerKeyFile)
			if err != nil {
				return nil, eris.Wrap(err, "pipeline: convert answer key document")
			}
			return grader.FormatProvidedKey(ctx, p.deps, md)
		})
	}

	type attemptItem struct {
		q       model.Question
		attempt int
	}
	nAttempts := p.cfg.Pipeline.KeyAttempts
	if nAttempts <= 0 {
		nAttempts = 3
	}

	attempts, err := cached(p, ctx, StageKeyAttempts, func(ctx context.Context) ([]model.KeyAttempt, error) {
		var items []attemptItem
		for _, q := range questions {
			for n := 1; n <= nAttempts; n++ {
				items = append(items, attemptItem{q: q, attempt: n})
			}
		}
		return stage.Run(ctx,
			stage.Options{Name: StageKeyAttempts, Concurrency: p.concurrency()},
			items,
			func(ctx context.Context, it attemptItem) (model.KeyAttempt, error) {
				return grader.SolveAttempt(ctx, p.deps, it.q, it.attempt)
			},
			func(it attemptItem, err error) model.KeyAttempt {
				return model.KeyAttempt{QuestionNumber: it.q.QuestionNumber, AttemptNumber: it.attempt}
			},
		)
	})
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[string][]model.KeyAttempt)
	for _, a := range attempts {
		if a.Answer == "" {
			continue
		}
		byQuestion[a.QuestionNumber] = append(byQuestion[a.QuestionNumber], a)
	}

	return cached(p, ctx, StageAnswerKey, func(ctx context.Context) ([]model.KeyEntry, error) {
		return stage.Run(ctx,
			stage.Options{Name: StageAnswerKey, Concurrency: p.concurrency()},
			questions,
			func(ctx context.Context, q model.Question) (model.KeyEntry, error) {
				qa := byQuestion[q.QuestionNumber]
				if len(qa) == 0 {
					return model.KeyEntry{}, eris.Errorf("pipeline: no usable attempts for question %s", q.QuestionNumber)
				}
				return grader.ConsolidateKey(ctx, p.deps, q, qa)
			},
			func(q model.Question, err error) model.KeyEntry {
				// Grading against an empty correct answer flags the
				// question for review downstream.
				return model.KeyEntry{QuestionNumber: q.QuestionNumber, QuestionText: q.QuestionText, Points: 10}
			},
		)
	})
}

// rubric either formats a provided rubric document or generates one per key
// entry from sample student answers.
func (p *Pipeline) rubric(ctx context.Context, opts RunOptions, key []model.KeyEntry, answers []model.Answer) ([]model.RubricEntry, error) {
	if opts.RubricFile != "" {
		return cached(p, ctx, StageRubric, func(ctx context.Context) ([]model.RubricEntry, error) {
			md, err := p.ingester.File(ctx, opts.RubricFile)
			if err != nil {
				return nil, eris.Wrap(err, "pipeline: convert rubric document")
			}
			return grader.FormatProvidedRubric(ctx, p.deps, md, key)
		})
	}

	sampleSize := p.cfg.Pipeline.SampleSize
	if sampleSize <= 0 {
		sampleSize = 10
	}
	samplesFor := answerSamples(answers)

	return cached(p, ctx, StageRubric, func(ctx context.Context) ([]model.RubricEntry, error) {
		return stage.Run(ctx,
			stage.Options{Name: StageRubric, Concurrency: p.concurrency()},
			key,
			func(ctx context.Context, k model.KeyEntry) (model.RubricEntry, error) {
				all := samplesFor(k.QuestionNumber)
				samples, validation := splitSamples(all, sampleSize)
				return grader.GenerateRubric(ctx, p.deps, k, samples, validation)
			},
			func(k model.KeyEntry, err error) model.RubricEntry {
				return model.RubricEntry{QuestionNumber: k.QuestionNumber, Points: k.Points}
			},
		)
	})
}

// answerSamples indexes non-empty answers by question number.
func answerSamples(answers []model.Answer) func(string) []string {
	byQuestion := make(map[string][]string)
	for _, a := range answers {
		if a.AnswerText == "" {
			continue
		}
		byQuestion[a.QuestionNumber] = append(byQuestion[a.QuestionNumber], a.AnswerText)
	}
	return func(questionNumber string) []string {
		return byQuestion[questionNumber]
	}
}

// splitSamples cuts the available answers into a generation sample and a
// validation sample of at most n each.
func splitSamples(all []string, n int) (samples, validation []string) {
	if len(all) <= n {
		return all, nil
	}
	samples = all[:n]
	validation = all[n:]
	if len(validation) > n {
		validation = validation[:n]
	}
	return samples, validation
}

// grade fans out one call per submission per pass, all sharing the cached
// answer key and rubric system blocks.
func (p *Pipeline) grade(ctx context.Context, opts RunOptions, subs []model.Submission, key []model.KeyEntry, rubric []model.RubricEntry) ([]model.Grade, error) {
	type gradeItem struct {
		sub  model.Submission
		pass int
	}

	return cached(p, ctx, StageGrades, func(ctx context.Context) ([]model.Grade, error) {
		system := grader.GradingSystem(key, rubric)

		var items []gradeItem
		for pass := 1; pass <= opts.Passes; pass++ {
			for _, sub := range subs {
				items = append(items, gradeItem{sub: sub, pass: pass})
			}
		}

		groups, err := stage.Run(ctx,
			stage.Options{Name: StageGrades, Concurrency: p.concurrency()},
			items,
			func(ctx context.Context, it gradeItem) ([]model.Grade, error) {
				return grader.GradeSubmission(ctx, p.deps, system, it.sub, key, it.pass)
			},
			func(it gradeItem, err error) []model.Grade {
				return grader.FallbackGrades(it.sub, key, it.pass, err)
			},
		)
		if err != nil {
			return nil, err
		}
		return flatten(groups), nil
	})
}

// feedback rolls up the first grading pass per submission.
func (p *Pipeline) feedback(ctx context.Context, subs []model.Submission, grades []model.Grade) ([]model.Feedback, error) {
	bySubmission := make(map[string][]model.Grade)
	for _, g := range grades {
		if g.Pass != 1 {
			continue
		}
		bySubmission[g.SubmissionID] = append(bySubmission[g.SubmissionID], g)
	}

	return cached(p, ctx, StageFeedback, func(ctx context.Context) ([]model.Feedback, error) {
		return stage.Run(ctx,
			stage.Options{Name: StageFeedback, Concurrency: p.concurrency()},
			subs,
			func(ctx context.Context, sub model.Submission) (model.Feedback, error) {
				return grader.CompileFeedback(ctx, p.deps, sub.SubmissionID, bySubmission[sub.SubmissionID])
			},
			func(sub model.Submission, err error) model.Feedback {
				return model.Feedback{SubmissionID: sub.SubmissionID}
			},
		)
	})
}

// cached runs fn unless the stage's artifact already exists, in which case
// the artifact is loaded instead and fn never runs.
func cached[T any](p *Pipeline, ctx context.Context, stageName string, fn func(context.Context) ([]T, error)) ([]T, error) {
	if p.store.Exists(stageName) {
		zap.L().Info("stage checkpoint found, skipping", zap.String("stage", stageName))
		return checkpoint.Load[T](p.store, stageName)
	}

	rows, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkpoint.Save(p.store, stageName, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// flatten concatenates per-item row groups into one table.
func flatten[T any](groups [][]T) []T {
	var out []T
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
