package tokens

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 2, Estimate("abcd"))
	assert.Equal(t, 26, Estimate(string(make([]byte, 100))))
	assert.Equal(t, 3200, EstimateImages(2))
}

func TestLedgerAdd(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	l.Add("grades", 100)
	l.Add("grades", 50)
	l.Add("feedback", 25)
	l.Add("feedback", 0) // no-op

	assert.Equal(t, int64(150), l.Stage("grades"))
	assert.Equal(t, int64(25), l.Stage("feedback"))
	assert.Equal(t, int64(0), l.Stage("unknown"))
	assert.Equal(t, int64(175), l.Total())
}

func TestLedgerConcurrent(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				l.Add("grades", 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5000), l.Total())
	assert.Equal(t, int64(5000), l.Stage("grades"))
}

func TestLedgerPerStageCopy(t *testing.T) {
	t.Parallel()

	l := NewLedger()
	l.Add("a", 1)

	snap := l.PerStage()
	snap["a"] = 999

	assert.Equal(t, int64(1), l.Stage("a"))
}
