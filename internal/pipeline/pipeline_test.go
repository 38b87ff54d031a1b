package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autograder/internal/checkpoint"
	"github.com/sells-group/autograder/internal/config"
	"github.com/sells-group/autograder/internal/cost"
	"github.com/sells-group/autograder/internal/ingest"
	"github.com/sells-group/autograder/internal/model"
	"github.com/sells-group/autograder/internal/rategate"
	"github.com/sells-group/autograder/pkg/anthropic"
)

// fakeExtractor converts any document into markdown tagged with the student
// name so the scripted client can tell submissions apart.
type fakeExtractor struct{}

func (fakeExtractor) ExtractText(_ context.Context, path string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return "Student: " + name + "\n\n1. What is 2+2? four\n2. Capital of France? Paris", nil
}

// scriptedClient routes each request to a canned response based on the
// prompt text, mimicking one full assignment with two questions.
type scriptedClient struct {
	mu         sync.Mutex
	calls      int
	failGrades map[string]int // student marker -> remaining failures
}

func (s *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	var system strings.Builder
	for _, b := range req.System {
		system.WriteString(b.Text)
	}
	user := req.Messages[0].Content

	text, err := s.respond(system.String(), user)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 200, OutputTokens: 80},
	}, nil
}

func (s *scriptedClient) respond(system, user string) (string, error) {
	switch {
	case strings.Contains(system, "You are an AI grader"):
		for marker := range s.failGrades {
			if strings.Contains(user, marker) {
				s.mu.Lock()
				remaining := s.failGrades[marker]
				if remaining > 0 {
					s.failGrades[marker] = remaining - 1
					s.mu.Unlock()
					return "", errors.New("invalid request")
				}
				s.mu.Unlock()
			}
		}
		return "```json\n[" +
			`{"question_number":"1","student_answer":"four","points_awarded":5,"total_points":5,"llm_explanation":"correct","needs_human_eval":false},` +
			`{"question_number":"2","student_answer":"Paris","points_awarded":8,"total_points":10,"llm_explanation":"mostly right","needs_human_eval":false}` +
			"]\n```", nil

	case strings.Contains(user, "extract all questions and their answers"):
		return `[
			{"question_number":"1","question_text":"What is 2+2?","points":5,"provided_correct_answer":"four"},
			{"question_number":"2","question_text":"Capital of France?","points":10,"provided_correct_answer":"Paris"}
		]`, nil

	case strings.Contains(user, "extract all questions from this markdown"):
		return `[
			{"question_number":"1","question_text":"What is 2+2?"},
			{"question_number":"2","question_text":"Capital of France?"}
		]`, nil

	case strings.Contains(user, "extract the student's answer"):
		return `[
			{"question_number":"1","question_text":"What is 2+2?","answer_text":"four"},
			{"question_number":"2","question_text":"Capital of France?","answer_text":"Paris"}
		]`, nil

	case strings.Contains(user, "exactly two keys"):
		return `{"answer":"four","explanation":"basic arithmetic"}`, nil

	case strings.Contains(user, "PICK THE BEST ONE"):
		return `{"best_answer":"four","best_explanation":"2+2=4"}`, nil

	case strings.Contains(user, "create a detailed but concise rubric"):
		return "+5 points for the correct answer\n+0 otherwise", nil

	case strings.Contains(user, "Evaluate whether the current rubric"):
		return "adequate", nil

	case strings.Contains(user, "aggregated feedback"):
		return "```json\n" + `{"overall_feedback":"Solid work; review European capitals."}` + "\n```", nil
	}
	return "", errors.New("unexpected prompt")
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 2048},
		RateLimit: rategate.DefaultConfig(),
		Pipeline:  config.PipelineConfig{Concurrency: 2, KeyAttempts: 2, SampleSize: 2, TopKPages: 2},
		Pricing:   cost.DefaultRates(),
	}
}

func setupRun(t *testing.T, students ...string) (RunOptions, *checkpoint.Store) {
	t.Helper()

	subsDir := t.TempDir()
	for _, s := range students {
		require.NoError(t, os.WriteFile(filepath.Join(subsDir, s+".pdf"), []byte("x"), 0o644))
	}

	workDir := t.TempDir()
	store, err := checkpoint.NewStore(filepath.Join(workDir, "checkpoints"))
	require.NoError(t, err)

	return RunOptions{
		SubmissionsDir: subsDir,
		OutputFile:     filepath.Join(workDir, "grades.csv"),
		BackupDir:      filepath.Join(workDir, "backups"),
	}, store
}

func writeKeyDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.pdf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestRunEndToEnd(t *testing.T) {
	opts, store := setupRun(t, "alice", "bob", "carol")
	opts.AnswerKeyFile = writeKeyDoc(t)

	// Grading bob fails outright; his rows must come back flagged.
	client := &scriptedClient{failGrades: map[string]int{"Student: bob": 1}}
	p := New(testConfig(), client, ingest.New(fakeExtractor{}), nil, store)

	require.NoError(t, p.Run(context.Background(), opts))

	grades, err := checkpoint.Load[model.Grade](store, StageGrades)
	require.NoError(t, err)
	require.Len(t, grades, 6, "three submissions, two questions each")

	var bobRows, flagged int
	for _, g := range grades {
		if g.SubmissionID == "bob" {
			bobRows++
			assert.True(t, g.NeedsHumanEval)
			assert.Zero(t, g.PointsAwarded)
			flagged++
		} else {
			assert.False(t, g.NeedsHumanEval)
			assert.Positive(t, g.PointsAwarded)
		}
		assert.Equal(t, 1, g.Pass)
	}
	assert.Equal(t, 2, bobRows)
	assert.Equal(t, 2, flagged)

	// Output files exist and carry headers plus rows.
	out, err := os.ReadFile(opts.OutputFile)
	require.NoError(t, err)
	assert.Contains(t, string(out), "needs_human_eval")

	fb, err := os.ReadFile(strings.TrimSuffix(opts.OutputFile, ".csv") + "_feedback.csv")
	require.NoError(t, err)
	assert.Contains(t, string(fb), "overall_feedback")

	// Provided key path: no attempt artifacts, no locate artifacts.
	assert.False(t, store.Exists(StageKeyAttempts))
	assert.False(t, store.Exists(StageLocate))
	for _, s := range []string{StageIngest, StageQuestions, StageAnswers, StageAnswerKey, StageRubric, StageGrades, StageFeedback} {
		assert.True(t, store.Exists(s), s)
	}

	// Markdown backups were written during ingest.
	_, err = os.Stat(filepath.Join(opts.BackupDir, "alice.md"))
	assert.NoError(t, err)
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	opts, store := setupRun(t, "alice", "bob")
	opts.AnswerKeyFile = writeKeyDoc(t)

	first := &scriptedClient{}
	p := New(testConfig(), first, ingest.New(fakeExtractor{}), nil, store)
	require.NoError(t, p.Run(context.Background(), opts))
	require.Positive(t, first.calls)

	// A rerun over the same checkpoint store must not issue a single call.
	second := &scriptedClient{}
	p2 := New(testConfig(), second, ingest.New(fakeExtractor{}), nil, store)
	require.NoError(t, p2.Run(context.Background(), opts))
	assert.Zero(t, second.calls)
}

func TestRunGeneratedKeyAndRubric(t *testing.T) {
	opts, store := setupRun(t, "alice")

	client := &scriptedClient{}
	p := New(testConfig(), client, ingest.New(fakeExtractor{}), nil, store)
	require.NoError(t, p.Run(context.Background(), opts))

	assert.True(t, store.Exists(StageKeyAttempts))

	attempts, err := checkpoint.Load[model.KeyAttempt](store, StageKeyAttempts)
	require.NoError(t, err)
	assert.Len(t, attempts, 4, "two questions times two attempts")

	key, err := checkpoint.Load[model.KeyEntry](store, StageAnswerKey)
	require.NoError(t, err)
	require.Len(t, key, 2)
	assert.Equal(t, "four", key[0].CorrectAnswer)

	rubric, err := checkpoint.Load[model.RubricEntry](store, StageRubric)
	require.NoError(t, err)
	require.Len(t, rubric, 2)
	assert.Contains(t, rubric[0].Rubric, "+5 points")
}

func TestRunSecondaryPasses(t *testing.T) {
	opts, store := setupRun(t, "alice")
	opts.AnswerKeyFile = writeKeyDoc(t)
	opts.Passes = 2

	p := New(testConfig(), &scriptedClient{}, ingest.New(fakeExtractor{}), nil, store)
	require.NoError(t, p.Run(context.Background(), opts))

	grades, err := checkpoint.Load[model.Grade](store, StageGrades)
	require.NoError(t, err)
	require.Len(t, grades, 4, "one submission, two questions, two passes")

	passes := map[int]int{}
	for _, g := range grades {
		passes[g.Pass]++
	}
	assert.Equal(t, 2, passes[1])
	assert.Equal(t, 2, passes[2])
}

func TestRunMissingInputs(t *testing.T) {
	t.Parallel()

	opts, store := setupRun(t, "alice")
	p := New(testConfig(), &scriptedClient{}, ingest.New(fakeExtractor{}), nil, store)

	var missing *MissingInputError

	bad := opts
	bad.SubmissionsDir = filepath.Join(opts.SubmissionsDir, "nope")
	err := p.Run(context.Background(), bad)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "submissions directory", missing.Input)

	bad = opts
	bad.AnswerKeyFile = "/does/not/exist.pdf"
	err = p.Run(context.Background(), bad)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "answer key document", missing.Input)
}

func TestRunCorruptCheckpointFails(t *testing.T) {
	opts, store := setupRun(t, "alice")
	opts.AnswerKeyFile = writeKeyDoc(t)

	// Poison the ingest artifact with a wrong header.
	require.NoError(t, os.WriteFile(store.Path(StageIngest), []byte("wrong,header\na,b\n"), 0o644))

	p := New(testConfig(), &scriptedClient{}, ingest.New(fakeExtractor{}), nil, store)
	err := p.Run(context.Background(), opts)

	var corrupt *checkpoint.CorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, StageIngest, corrupt.Stage)
}
