package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autograder/internal/cost"
	"github.com/sells-group/autograder/internal/model"
)

// writeOutput writes the final grades CSV and a companion feedback CSV next
// to it ("<output>_feedback.csv").
func (p *Pipeline) writeOutput(path string, grades []model.Grade, feedback []model.Feedback) error {
	if err := writeCSV(path, grades); err != nil {
		return err
	}

	ext := filepath.Ext(path)
	feedbackPath := strings.TrimSuffix(path, ext) + "_feedback" + ext
	return writeCSV(feedbackPath, feedback)
}

func writeCSV[T any](path string, rows []T) error {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return eris.Wrapf(err, "pipeline: marshal %s", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "pipeline: create output dir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}

// report logs per-stage token totals and the estimated spend for the run.
func (p *Pipeline) report(log *zap.Logger) {
	p.ledger.Report()

	u := p.usage.Usage()
	calc := cost.NewCalculator(p.cfg.Pricing)
	spend := calc.Claude(p.cfg.Anthropic.Model, u.InputTokens, u.OutputTokens, u.CacheCreationInputTokens, u.CacheReadInputTokens)

	log.Info("estimated run cost",
		zap.String("model", p.cfg.Anthropic.Model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("usd", spend),
	)
}
