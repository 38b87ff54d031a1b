// Package rategate bounds outbound LLM traffic on two independent axes:
// concurrent requests in flight and token volume per rolling window. Workers
// acquire from the gate before every request; the gate only ever delays, it
// never fails except on context cancellation.
package rategate

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the gate ceilings. Zero values fall back to defaults.
type Config struct {
	MaxInFlight       int `yaml:"max_in_flight" mapstructure:"max_in_flight"`
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute" mapstructure:"tokens_per_minute"`
}

// DefaultConfig returns the stock ceilings for a standard API tier.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:       10,
		RequestsPerMinute: 100,
		TokensPerMinute:   100_000,
	}
}

// Gate admits requests subject to the configured ceilings. Budget
// replenishes continuously as the window advances.
type Gate struct {
	sem        *semaphore.Weighted
	requests   *rate.Limiter
	tokens     *rate.Limiter
	tokenBurst int
}

// New creates a Gate from cfg.
func New(cfg Config) *Gate {
	def := DefaultConfig()
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}

	return &Gate{
		sem:        semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		requests:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute),
		tokens:     rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), cfg.TokensPerMinute),
		tokenBurst: cfg.TokensPerMinute,
	}
}

// Acquire blocks until a request slot and estTokens of window budget are
// available, then returns a release func the caller must invoke when the
// request completes. Requests estimated above a full window's budget are
// clamped to the window rather than rejected.
func (g *Gate) Acquire(ctx context.Context, estTokens int) (func(), error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "rategate: acquire slot")
	}

	var once sync.Once
	release := func() {
		once.Do(func() { g.sem.Release(1) })
	}

	if err := g.requests.Wait(ctx); err != nil {
		release()
		return nil, eris.Wrap(err, "rategate: request budget")
	}

	if estTokens > g.tokenBurst {
		estTokens = g.tokenBurst
	}
	if estTokens > 0 {
		if err := g.tokens.WaitN(ctx, estTokens); err != nil {
			release()
			return nil, eris.Wrap(err, "rategate: token budget")
		}
	}

	return release, nil
}
