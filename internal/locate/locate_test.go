package locate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/autograder/internal/model"
)

// axisEmbedder maps each known text to a fixed unit vector so similarity
// is exact: identical texts score 1, orthogonal texts score 0.
type axisEmbedder struct {
	axes map[string]int
	dim  int
	err  error
}

func (e *axisEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, e.dim)
		if axis, ok := e.axes[t]; ok {
			v[axis] = 1
		}
		out[i] = v
	}
	return out, nil
}

func TestSplitPages(t *testing.T) {
	t.Parallel()

	md := "page one\n\n<!-- PageBreak -->\n\npage two\n\n<!-- PageBreak -->\n\n"
	pages := SplitPages(md)
	require.Len(t, pages, 3)
	assert.Equal(t, "page one", pages[0])
	assert.Equal(t, "page two", pages[1])
	assert.Empty(t, pages[2], "trailing blank pages keep their position")

	assert.Len(t, SplitPages("single page"), 1)
}

func TestLocate(t *testing.T) {
	t.Parallel()

	// Question 1 matches page 1's text exactly; the student's answer to
	// question 2 matches page 2.
	emb := &axisEmbedder{dim: 4, axes: map[string]int{
		"What is Go?":   0,
		"go is a lang":  0,
		"channels here": 1,
		"chan answer":   1,
	}}

	subs := []model.Submission{{
		SubmissionID: "alice",
		Markdown:     "go is a lang\n\n<!-- PageBreak -->\n\nchannels here",
	}}
	questions := []model.Question{
		{QuestionNumber: "1", QuestionText: "What is Go?"},
		{QuestionNumber: "2", QuestionText: "Explain channels"},
	}
	answers := []model.Answer{
		{SubmissionID: "alice", QuestionNumber: "2", AnswerText: "chan answer"},
	}

	hits, err := New(emb, 1, 1).Locate(context.Background(), subs, questions, answers)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "alice", hits[0].SubmissionID)
	assert.Equal(t, []int{1}, hits[0].PageList())
	assert.Contains(t, hits[1].PageList(), 2)
}

func TestLocateTopKClampsToPageCount(t *testing.T) {
	t.Parallel()

	emb := &axisEmbedder{dim: 2, axes: map[string]int{"q": 0}}
	subs := []model.Submission{{SubmissionID: "a", Markdown: "only page"}}
	questions := []model.Question{{QuestionNumber: "1", QuestionText: "q"}}

	hits, err := New(emb, 5, 1).Locate(context.Background(), subs, questions, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []int{1}, hits[0].PageList())
}

func TestLocateEmbedFailureFallsBack(t *testing.T) {
	t.Parallel()

	// Question embedding succeeds, page embedding fails per submission.
	calls := 0
	emb := &countingEmbedder{inner: &axisEmbedder{dim: 2}, failAfter: 1, calls: &calls}

	subs := []model.Submission{{SubmissionID: "a", Markdown: "p1"}}
	questions := []model.Question{{QuestionNumber: "1", QuestionText: "q"}}

	hits, err := New(emb, 3, 1).Locate(context.Background(), subs, questions, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Empty(t, hits[0].Pages, "failed submissions get empty page hits")
}

func TestLocateEmptyInputs(t *testing.T) {
	t.Parallel()

	hits, err := New(&axisEmbedder{dim: 2}, 3, 1).Locate(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLocateQuestionEmbedFailure(t *testing.T) {
	t.Parallel()

	emb := &axisEmbedder{dim: 2, err: errors.New("endpoint down")}
	subs := []model.Submission{{SubmissionID: "a", Markdown: "p"}}
	questions := []model.Question{{QuestionNumber: "1", QuestionText: "q"}}

	_, err := New(emb, 3, 1).Locate(context.Background(), subs, questions, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed questions")
}

func TestCosine(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float64{0, 0}, []float64{1, 1}))
}

// countingEmbedder fails every call after the first failAfter calls.
type countingEmbedder struct {
	inner     *axisEmbedder
	calls     *int
	failAfter int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	*c.calls++
	if *c.calls > c.failAfter {
		return nil, errors.New("embedding quota exceeded")
	}
	return c.inner.Embed(ctx, texts)
}
