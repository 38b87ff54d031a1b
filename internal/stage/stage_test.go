package stage

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	ID     string
	Value  int
	Failed bool
}

func TestRunLengthInvariant(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6, 7}
	out, err := Run(context.Background(), Options{Name: "double"}, items,
		func(_ context.Context, n int) (result, error) {
			return result{ID: fmt.Sprint(n), Value: n * 2}, nil
		},
		func(n int, _ error) result {
			return result{ID: fmt.Sprint(n), Failed: true}
		},
	)
	require.NoError(t, err)
	require.Len(t, out, len(items))

	// Results are keyed by input index regardless of completion order.
	for i, n := range items {
		assert.Equal(t, n*2, out[i].Value)
	}
}

func TestRunFallbackOnFailure(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3, 4, 5, 6}
	out, err := Run(context.Background(), Options{Name: "flaky"}, items,
		func(_ context.Context, n int) (result, error) {
			if n == 5 {
				return result{}, fmt.Errorf("simulated transient failure")
			}
			return result{ID: fmt.Sprint(n), Value: n}, nil
		},
		func(n int, _ error) result {
			return result{ID: fmt.Sprint(n), Failed: true}
		},
	)
	require.NoError(t, err)
	require.Len(t, out, 6)

	var failures int
	for _, r := range out {
		if r.Failed {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, out[4].Failed)
	assert.Equal(t, "5", out[4].ID)
}

func TestRunConcurrencyBound(t *testing.T) {
	t.Parallel()

	const limit = 3
	var inFlight, highWater atomic.Int64

	items := make([]int, 30)
	_, err := Run(context.Background(), Options{Name: "bounded", Concurrency: limit}, items,
		func(_ context.Context, _ int) (struct{}, error) {
			cur := inFlight.Add(1)
			for {
				hw := highWater.Load()
				if cur <= hw || highWater.CompareAndSwap(hw, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		},
		func(_ int, _ error) struct{} { return struct{}{} },
	)
	require.NoError(t, err)
	assert.LessOrEqual(t, highWater.Load(), int64(limit))
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	out, err := Run(context.Background(), Options{Name: "empty"}, nil,
		func(_ context.Context, _ int) (result, error) { return result{}, nil },
		func(_ int, _ error) result { return result{} },
	)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []int{1, 2, 3}
	_, err := Run(ctx, Options{Name: "cancelled"}, items,
		func(ctx context.Context, _ int) (result, error) {
			return result{}, ctx.Err()
		},
		func(_ int, _ error) result { return result{Failed: true} },
	)

	// Cancellation must surface as an error, not a table of fallback rows.
	require.Error(t, err)
}
