package weights_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caster-hub/validator-core/pkg/chain"
	"github.com/caster-hub/validator-core/pkg/progress"
	"github.com/caster-hub/validator-core/pkg/weights"
)

func TestComputeScoresSumsPerUIDWeighted(t *testing.T) {
	closeouts := []progress.Closeout{
		{UID: 1, ClaimID: "c1", Score: 0.5},
		{UID: 1, ClaimID: "c2", Score: 0.25},
		{UID: 2, ClaimID: "c1", Score: 1.0},
	}
	scores := weights.ComputeScores(closeouts, map[string]float64{"c2": 2.0})
	assert.InDelta(t, 1.0, scores[1], 1e-9) // 0.5*1 + 0.25*2
	assert.InDelta(t, 1.0, scores[2], 1e-9)
}

func TestNormalizeDropsZeroAndNegativeKeepsPositiveSumToOne(t *testing.T) {
	out := weights.Normalize(map[int]float64{1: 3, 2: 1, 3: 0, 4: -5})
	require.Len(t, out, 2)
	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 0.01)
	assert.InDelta(t, 0.75, out[1], 1e-9)
	assert.InDelta(t, 0.25, out[2], 1e-9)
}

func TestNormalizeAllNonPositiveReturnsEmpty(t *testing.T) {
	out := weights.Normalize(map[int]float64{1: 0, 2: -1})
	assert.Empty(t, out)
}

func TestNormalizePropertySumsToOneWithinTolerance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("normalized positive weights sum to 1.0 +-0.01", prop.ForAll(
		func(values []float64) bool {
			scores := make(map[int]float64, len(values))
			for i, v := range values {
				scores[i] = v
			}
			out := weights.Normalize(scores)
			if len(out) == 0 {
				return true
			}
			var sum float64
			for _, w := range out {
				if w <= 0 {
					return false
				}
				sum += w
			}
			diff := sum - 1.0
			if diff < 0 {
				diff = -diff
			}
			return diff <= 0.01
		},
		gen.SliceOfN(10, gen.Float64Range(-5, 5)),
	))

	properties.TestingRun(t)
}

func TestTieBreakOrdersByDescendingWeightThenAscendingUID(t *testing.T) {
	ordered := weights.TieBreak(map[int]float64{5: 0.5, 2: 0.5, 9: 0.9, 1: 0.1})
	assert.Equal(t, []int{9, 2, 5, 1}, ordered)
}

func TestTopNTruncates(t *testing.T) {
	top := weights.TopN(map[int]float64{1: 0.1, 2: 0.9, 3: 0.5, 4: 0.4}, 2)
	assert.Equal(t, []int{2, 3}, top)
}

func TestBackoffStoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := weights.NewBackoffStore(filepath.Join(dir, "backoff"))

	block, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(0), block)

	require.NoError(t, store.Write(12345))
	block, err = store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), block)
}

func TestBackoffStoreWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backoff")
	store := weights.NewBackoffStore(path)
	require.NoError(t, store.Write(10))
	require.NoError(t, store.Write(20))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp files after a successful write")
}

func TestServiceSubmitSkipsWhenWindowClosed(t *testing.T) {
	fake := chain.NewFake()
	fake.SetBlock(100)
	fake.SetTempo(50)
	fake.SetLastUpdate(1, 90) // 100-90=10 < tempo 50
	fake.SetValidatorInfo(chain.ValidatorNodeInfo{UID: 1})

	store := weights.NewBackoffStore(filepath.Join(t.TempDir(), "backoff"))
	svc := weights.NewService(fake, store, 1, 0)

	sub, err := svc.Submit(context.Background(), "run-1", map[int]float64{2: 1.0})
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.Equal(t, 0, fake.SubmitCount())
}

func TestServiceSubmitSucceedsWhenWindowOpen(t *testing.T) {
	fake := chain.NewFake()
	fake.SetBlock(1000)
	fake.SetTempo(50)
	fake.SetLastUpdate(1, 900) // 1000-900=100 >= tempo 50
	fake.SetValidatorInfo(chain.ValidatorNodeInfo{UID: 1})

	store := weights.NewBackoffStore(filepath.Join(t.TempDir(), "backoff"))
	svc := weights.NewService(fake, store, 1, 0)

	sub, err := svc.Submit(context.Background(), "run-1", map[int]float64{2: 1.0})
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, 1, fake.SubmitCount())
	assert.NotEmpty(t, sub.ReceiptHash)

	persisted, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), persisted)
}

func TestServiceSubmitEmptyWeightsIsNoop(t *testing.T) {
	fake := chain.NewFake()
	store := weights.NewBackoffStore(filepath.Join(t.TempDir(), "backoff"))
	svc := weights.NewService(fake, store, 1, 0)

	sub, err := svc.Submit(context.Background(), "run-1", map[int]float64{})
	require.NoError(t, err)
	assert.Nil(t, sub)
}
