// Package tokens tracks token consumption across the pipeline run, keyed by
// stage, and provides the estimates the rate gate needs before a request is
// issued.
package tokens

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

const (
	// charsPerToken is the estimation divisor for English prose. The gate
	// only needs an admission estimate, not an exact count.
	charsPerToken = 4

	// imageTokens is the flat per-image cost used when estimating requests
	// with attachments.
	imageTokens = 1600
)

// Estimate returns an approximate token count for text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/charsPerToken + 1
}

// EstimateImages returns the estimated token cost of n image attachments.
func EstimateImages(n int) int {
	return n * imageTokens
}

// Ledger accumulates token counts per stage for the whole run. Safe for
// concurrent use by stage workers.
type Ledger struct {
	mu     sync.Mutex
	stages map[string]int64
	total  int64
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{stages: make(map[string]int64)}
}

// Add records n tokens against a stage.
func (l *Ledger) Add(stage string, n int64) {
	if n == 0 {
		return
	}
	l.mu.Lock()
	l.stages[stage] += n
	l.total += n
	l.mu.Unlock()
}

// Stage returns the cumulative count for one stage.
func (l *Ledger) Stage(stage string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stages[stage]
}

// Total returns the grand total across all stages.
func (l *Ledger) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// PerStage returns a copy of the per-stage totals.
func (l *Ledger) PerStage() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.stages))
	for k, v := range l.stages {
		out[k] = v
	}
	return out
}

// Report logs per-stage and grand totals.
func (l *Ledger) Report() {
	perStage := l.PerStage()

	names := make([]string, 0, len(perStage))
	for name := range perStage {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		zap.L().Info("token usage",
			zap.String("stage", name),
			zap.Int64("tokens", perStage[name]),
		)
	}
	zap.L().Info("token usage total", zap.Int64("tokens", l.Total()))
}
