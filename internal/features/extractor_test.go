package features

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// fakeSource serves a fixed descending history, ignoring the cutoff
type fakeSource struct {
	drawings []types.Drawing
	err      error
}

func (f *fakeSource) DrawingsBefore(_ context.Context, _ types.LotteryType, _ time.Time, limit int) ([]types.Drawing, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.drawings) {
		return f.drawings[:limit], nil
	}
	return f.drawings, nil
}

// descendingHistory builds n deterministic ssq drawings, newest first
func descendingHistory(n int, seed int64) []types.Drawing {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	drawings := make([]types.Drawing, n)
	for i := 0; i < n; i++ {
		seen := map[int]bool{}
		numbers := make([]int, 0, 6)
		for len(numbers) < 6 {
			candidate := rng.Intn(33) + 1
			if !seen[candidate] {
				seen[candidate] = true
				numbers = append(numbers, candidate)
			}
		}
		drawings[n-1-i] = types.Drawing{
			LotteryType:        types.LotterySSQ,
			DrawNumber:         fmt.Sprintf("2025%03d", i+1),
			DrawDate:           start.AddDate(0, 0, i*3),
			WinningNumbers:     numbers,
			SpecialNumbers:     []int{rng.Intn(16) + 1},
			VerificationStatus: types.VerificationVerified,
		}
	}
	return drawings
}

func TestExtractProducesOneRecordPerKind(t *testing.T) {
	source := &fakeSource{drawings: descendingHistory(30, 7)}
	extractor := NewExtractor(rules.NewRegistry(), source)
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	records, err := extractor.Extract(context.Background(), types.LotterySSQ, asOf, 30, types.AllFeatureKinds())
	require.NoError(t, err)
	require.Len(t, records, 5)

	byKind := map[types.FeatureKind]types.FeatureRecord{}
	for _, r := range records {
		assert.Equal(t, types.LotterySSQ, r.LotteryType)
		assert.Equal(t, 30, r.DataPoints)
		assert.NotEmpty(t, r.FeatureVector)
		byKind[r.FeatureKind] = r
	}
	for _, kind := range types.AllFeatureKinds() {
		assert.Contains(t, byKind, kind)
	}

	// frequency spans the main and special ranges, one slot per value
	assert.Len(t, byKind[types.FeatureFrequency].FeatureVector, 33+16)
	// trend is up/down/stable plus one hot-cold score per main number
	assert.Len(t, byKind[types.FeatureTrend].FeatureVector, 3+33)
	assert.Len(t, byKind[types.FeatureStatistical].FeatureVector, 8)
	assert.Len(t, byKind[types.FeaturePattern].FeatureVector, 5)
	assert.Len(t, byKind[types.FeatureTemporal].FeatureVector, 4)
}

func TestExtractIsDeterministic(t *testing.T) {
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	first, err := NewExtractor(rules.NewRegistry(), &fakeSource{drawings: descendingHistory(25, 11)}).
		Extract(context.Background(), types.LotterySSQ, asOf, 25, types.AllFeatureKinds())
	require.NoError(t, err)

	second, err := NewExtractor(rules.NewRegistry(), &fakeSource{drawings: descendingHistory(25, 11)}).
		Extract(context.Background(), types.LotterySSQ, asOf, 25, types.AllFeatureKinds())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].FeatureKind, second[i].FeatureKind)
		assert.Equal(t, first[i].FeatureVector, second[i].FeatureVector)
	}
}

func TestExtractFrequencyRatios(t *testing.T) {
	// Ten identical draws make the drawn numbers hit ratio 1.0
	drawings := make([]types.Drawing, 10)
	for i := range drawings {
		drawings[i] = types.Drawing{
			LotteryType:    types.LotterySSQ,
			DrawDate:       time.Date(2025, 1, 1+i, 0, 0, 0, 0, time.UTC),
			WinningNumbers: []int{1, 2, 3, 4, 5, 6},
			SpecialNumbers: []int{7},
		}
	}
	extractor := NewExtractor(rules.NewRegistry(), &fakeSource{drawings: drawings})

	records, err := extractor.Extract(context.Background(), types.LotterySSQ,
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), 10, []types.FeatureKind{types.FeatureFrequency})
	require.NoError(t, err)
	require.Len(t, records, 1)

	vector := records[0].FeatureVector
	for n := 1; n <= 6; n++ {
		assert.Equal(t, 1.0, vector[n-1], "main number %d", n)
	}
	assert.Equal(t, 0.0, vector[6])
	assert.Equal(t, 1.0, vector[33+7-1], "special number 7")
}

func TestExtractInsufficientData(t *testing.T) {
	extractor := NewExtractor(rules.NewRegistry(), &fakeSource{drawings: descendingHistory(4, 3)})

	_, err := extractor.Extract(context.Background(), types.LotterySSQ,
		time.Now().UTC(), 30, types.AllFeatureKinds())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientData)
}

func TestExtractUnknownLotteryType(t *testing.T) {
	extractor := NewExtractor(rules.NewRegistry(), &fakeSource{drawings: descendingHistory(30, 3)})

	_, err := extractor.Extract(context.Background(), types.LotteryType("megamillions"),
		time.Now().UTC(), 30, types.AllFeatureKinds())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrUnknownLotteryType)
}
