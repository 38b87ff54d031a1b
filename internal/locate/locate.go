// Package locate maps each question to the submission pages most likely to
// hold the student's answer, using embedding similarity. The page hits are
// advisory: grading still sees the whole submission, but reviewers use the
// hits to jump straight to the right page.
package locate

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/autograder/internal/model"
	"github.com/sells-group/autograder/internal/ocr"
	"github.com/sells-group/autograder/internal/stage"
	"github.com/sells-group/autograder/pkg/openai"
)

// Locator finds relevant pages per (submission, question) pair.
type Locator struct {
	client      openai.EmbeddingsClient
	topK        int
	concurrency int
}

// New creates a Locator keeping the topK most similar pages per question.
func New(client openai.EmbeddingsClient, topK, concurrency int) *Locator {
	if topK <= 0 {
		topK = 3
	}
	return &Locator{client: client, topK: topK, concurrency: concurrency}
}

// SplitPages splits extracted markdown into pages on the PageBreak marker.
// Page numbering is 1-based and positional, so blank pages are kept.
func SplitPages(markdown string) []string {
	parts := strings.Split(markdown, ocr.PageBreak)
	pages := make([]string, len(parts))
	for i, p := range parts {
		pages[i] = strings.TrimSpace(p)
	}
	return pages
}

// Locate returns one PageHit per (submission, question) pair. Pages are the
// union of the topK pages most similar to the question text and the topK
// most similar to the student's extracted answer. A submission whose
// embedding calls fail gets hits with no pages rather than failing the run.
func (l *Locator) Locate(ctx context.Context, subs []model.Submission, questions []model.Question, answers []model.Answer) ([]model.PageHit, error) {
	if len(subs) == 0 || len(questions) == 0 {
		return nil, nil
	}

	questionVecs, err := l.embedQuestions(ctx, questions)
	if err != nil {
		return nil, err
	}

	answerText := make(map[string]string, len(answers))
	for _, a := range answers {
		answerText[a.SubmissionID+"\x00"+normalize(a.QuestionNumber)] = a.AnswerText
	}

	perSub, err := stage.Run(ctx,
		stage.Options{Name: "locate_pages", Concurrency: l.concurrency},
		subs,
		func(ctx context.Context, sub model.Submission) ([]model.PageHit, error) {
			return l.locateOne(ctx, sub, questions, questionVecs, answerText)
		},
		func(sub model.Submission, err error) []model.PageHit {
			hits := make([]model.PageHit, len(questions))
			for i, q := range questions {
				hits[i] = model.PageHit{SubmissionID: sub.SubmissionID, QuestionNumber: q.QuestionNumber}
			}
			return hits
		},
	)
	if err != nil {
		return nil, err
	}

	var out []model.PageHit
	for _, hits := range perSub {
		out = append(out, hits...)
	}
	return out, nil
}

func (l *Locator) embedQuestions(ctx context.Context, questions []model.Question) ([][]float64, error) {
	texts := make([]string, len(questions))
	for i, q := range questions {
		texts[i] = q.QuestionText
	}
	vecs, err := l.client.Embed(ctx, texts)
	if err != nil {
		return nil, eris.Wrap(err, "locate: embed questions")
	}
	if len(vecs) != len(questions) {
		return nil, eris.Errorf("locate: got %d question embeddings for %d questions", len(vecs), len(questions))
	}
	return vecs, nil
}

// locateOne embeds a submission's pages and answers in one call and scores
// them against the precomputed question vectors.
func (l *Locator) locateOne(ctx context.Context, sub model.Submission, questions []model.Question, questionVecs [][]float64, answerText map[string]string) ([]model.PageHit, error) {
	pages := SplitPages(sub.Markdown)

	answers := make([]string, len(questions))
	for i, q := range questions {
		answers[i] = answerText[sub.SubmissionID+"\x00"+normalize(q.QuestionNumber)]
	}

	vecs, err := l.client.Embed(ctx, append(append([]string{}, pages...), answers...))
	if err != nil {
		return nil, eris.Wrapf(err, "locate: embed pages for %s", sub.SubmissionID)
	}
	if len(vecs) != len(pages)+len(answers) {
		return nil, eris.Errorf("locate: got %d embeddings for %d inputs", len(vecs), len(pages)+len(answers))
	}
	pageVecs := vecs[:len(pages)]
	answerVecs := vecs[len(pages):]

	hits := make([]model.PageHit, len(questions))
	for i, q := range questions {
		union := map[int]bool{}
		for _, p := range topKPages(questionVecs[i], pageVecs, l.topK) {
			union[p] = true
		}
		if answers[i] != "" {
			for _, p := range topKPages(answerVecs[i], pageVecs, l.topK) {
				union[p] = true
			}
		}

		found := make([]int, 0, len(union))
		for p := range union {
			found = append(found, p)
		}
		sort.Ints(found)

		hits[i] = model.PageHit{
			SubmissionID:   sub.SubmissionID,
			QuestionNumber: q.QuestionNumber,
			Pages:          model.FormatPages(found),
		}
	}
	return hits, nil
}

// topKPages returns the 1-based page numbers of the k pages most similar to
// the query vector.
func topKPages(query []float64, pages [][]float64, k int) []int {
	type scored struct {
		page int
		sim  float64
	}
	scores := make([]scored, len(pages))
	for i, p := range pages {
		scores[i] = scored{page: i + 1, sim: cosine(query, p)}
	}
	sort.Slice(scores, func(a, b int) bool { return scores[a].sim > scores[b].sim })

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = scores[i].page
	}
	return out
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
