package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// MinDrawings is the default minimum window size for feature extraction
const MinDrawings = 10

// extractorVersion is recorded on every feature record for provenance
const extractorVersion = "1.0"

// DrawingSource supplies the trailing historical window for a game.
// Implementations must return drawings ordered by draw date descending
// and strictly before the given date (no look-ahead).
type DrawingSource interface {
	DrawingsBefore(ctx context.Context, lotteryType types.LotteryType, before time.Time, limit int) ([]types.Drawing, error)
}

// Extractor turns a window of historical drawings into fixed-length
// numeric feature vectors. Extraction is deterministic: identical inputs
// always produce bit-identical vectors.
type Extractor struct {
	rules       *rules.Registry
	source      DrawingSource
	minDrawings int
	logger      *logrus.Entry
}

// NewExtractor creates a feature extractor backed by a drawing source
func NewExtractor(registry *rules.Registry, source DrawingSource) *Extractor {
	return &Extractor{
		rules:       registry,
		source:      source,
		minDrawings: MinDrawings,
		logger:      logger.WithComponent("feature_extractor"),
	}
}

// Extract computes one feature record per requested kind over the trailing
// windowSize drawings ending at asOf (exclusive)
func (e *Extractor) Extract(ctx context.Context, lotteryType types.LotteryType, asOf time.Time, windowSize int, kinds []types.FeatureKind) ([]types.FeatureRecord, error) {
	rule, err := e.rules.Get(lotteryType)
	if err != nil {
		return nil, err
	}

	drawings, err := e.source.DrawingsBefore(ctx, lotteryType, asOf, windowSize)
	if err != nil {
		return nil, types.WrapStorage("load historical window", err)
	}
	if len(drawings) < e.minDrawings {
		return nil, fmt.Errorf("%w: have %d drawings, need at least %d", types.ErrInsufficientData, len(drawings), e.minDrawings)
	}

	// Source returns newest-first; windows are computed oldest-first
	window := make([]types.Drawing, len(drawings))
	for i, d := range drawings {
		window[len(drawings)-1-i] = d
	}

	records := make([]types.FeatureRecord, 0, len(kinds))
	for _, kind := range kinds {
		start := time.Now()

		var vector []float64
		switch kind {
		case types.FeatureFrequency:
			vector = frequencyVector(window, rule)
		case types.FeatureTrend:
			vector = trendVector(window, rule)
		case types.FeatureStatistical:
			vector = statisticalVector(window)
		case types.FeaturePattern:
			vector = patternVector(window)
		case types.FeatureTemporal:
			vector = temporalVector(asOf)
		default:
			return nil, fmt.Errorf("unsupported feature kind: %s", kind)
		}

		records = append(records, types.FeatureRecord{
			LotteryType:       lotteryType,
			FeatureKind:       kind,
			FeatureName:       fmt.Sprintf("%s_%s_w%d", lotteryType, kind, windowSize),
			FeatureVector:     vector,
			DataPoints:        len(window),
			ComputationTimeMs: time.Since(start).Milliseconds(),
			AlgorithmVersion:  extractorVersion,
		})
	}

	e.logger.WithFields(logrus.Fields{
		"lottery_type": lotteryType,
		"as_of":        asOf.Format("2006-01-02"),
		"window":       len(window),
		"kinds":        len(kinds),
	}).Debug("Extracted feature records")

	return records, nil
}

// Concat joins feature records into a single input vector for algorithms
func Concat(records []types.FeatureRecord) []float64 {
	var out []float64
	for _, r := range records {
		out = append(out, r.FeatureVector...)
	}
	return out
}

// frequencyVector holds one normalized occurrence ratio per main number,
// followed by one per special number when the rule has a special range
func frequencyVector(window []types.Drawing, rule *types.RuleSet) []float64 {
	mainSize := rule.MainRangeSize()
	vector := make([]float64, mainSize+rule.SpecialRangeSize())
	total := float64(len(window))

	for _, d := range window {
		for _, n := range d.WinningNumbers {
			if n >= rule.MainRangeStart && n <= rule.MainRangeEnd {
				vector[n-rule.MainRangeStart] += 1.0
			}
		}
		for _, n := range d.SpecialNumbers {
			if rule.SpecialCount > 0 && n >= rule.SpecialRangeStart && n <= rule.SpecialRangeEnd {
				vector[mainSize+n-rule.SpecialRangeStart] += 1.0
			}
		}
	}
	for i := range vector {
		vector[i] /= total
	}
	return vector
}

// trendVector holds the up/down/stable ratios of the draw-mean series
// plus one hot-cold score per main number (recent window frequency minus
// older window frequency)
func trendVector(window []types.Drawing, rule *types.RuleSet) []float64 {
	up, down, stable := 0.0, 0.0, 0.0
	for i := 1; i < len(window); i++ {
		prev := meanOf(window[i-1].WinningNumbers)
		cur := meanOf(window[i].WinningNumbers)
		switch {
		case cur > prev:
			up++
		case cur < prev:
			down++
		default:
			stable++
		}
	}
	steps := float64(len(window) - 1)
	if steps > 0 {
		up, down, stable = up/steps, down/steps, stable/steps
	}

	recentLen := len(window) / 5
	if recentLen < 1 {
		recentLen = 1
	}
	recent := window[len(window)-recentLen:]
	older := window[:len(window)-recentLen]

	mainSize := rule.MainRangeSize()
	hotCold := make([]float64, mainSize)
	recentFreq := countNumbers(recent, rule)
	olderFreq := countNumbers(older, rule)
	recentTotal := sumOf(recentFreq)
	olderTotal := sumOf(olderFreq)
	for i := 0; i < mainSize; i++ {
		var r, o float64
		if recentTotal > 0 {
			r = recentFreq[i] / recentTotal
		}
		if olderTotal > 0 {
			o = olderFreq[i] / olderTotal
		}
		hotCold[i] = r - o
	}

	return append([]float64{up, down, stable}, hotCold...)
}

// statisticalVector holds aggregate statistics of the drawn numbers and
// their per-draw sums: mean, std, min, max, median, sum mean, sum std,
// last sum
func statisticalVector(window []types.Drawing) []float64 {
	var all []float64
	sums := make([]float64, 0, len(window))
	for _, d := range window {
		sum := 0.0
		for _, n := range d.WinningNumbers {
			all = append(all, float64(n))
			sum += float64(n)
		}
		sums = append(sums, sum)
	}
	if len(all) == 0 {
		return make([]float64, 8)
	}

	sorted := append([]float64(nil), all...)
	sort.Float64s(sorted)

	mean := stat.Mean(all, nil)
	std := stat.StdDev(all, nil)
	if math.IsNaN(std) {
		std = 0
	}
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	sumMean := stat.Mean(sums, nil)
	sumStd := stat.StdDev(sums, nil)
	if math.IsNaN(sumStd) {
		sumStd = 0
	}

	return []float64{
		mean, std, sorted[0], sorted[len(sorted)-1], median,
		sumMean, sumStd, sums[len(sums)-1],
	}
}

// patternVector holds structural ratios per draw: consecutive pairs,
// odd, even, prime, and numbers repeated from the previous draw
func patternVector(window []types.Drawing) []float64 {
	consecutive, odd, even, prime, repeat := 0.0, 0.0, 0.0, 0.0, 0.0

	for i, d := range window {
		numbers := append([]int(nil), d.WinningNumbers...)
		sort.Ints(numbers)

		for j := 1; j < len(numbers); j++ {
			if numbers[j] == numbers[j-1]+1 {
				consecutive++
			}
		}
		for _, n := range numbers {
			if n%2 == 1 {
				odd++
			} else {
				even++
			}
			if isPrime(n) {
				prime++
			}
		}
		if i > 0 {
			prev := make(map[int]bool, len(window[i-1].WinningNumbers))
			for _, n := range window[i-1].WinningNumbers {
				prev[n] = true
			}
			for _, n := range numbers {
				if prev[n] {
					repeat++
				}
			}
		}
	}

	total := float64(len(window))
	return []float64{consecutive / total, odd / total, even / total, prime / total, repeat / total}
}

// temporalVector encodes the prediction target date
func temporalVector(asOf time.Time) []float64 {
	weekday := float64(asOf.Weekday()) / 7.0
	dayOfMonth := float64(asOf.Day()) / 31.0
	month := float64(asOf.Month()) / 12.0
	weekend := 0.0
	if asOf.Weekday() == time.Saturday || asOf.Weekday() == time.Sunday {
		weekend = 1.0
	}
	return []float64{weekday, dayOfMonth, month, weekend}
}

func meanOf(numbers []int) float64 {
	if len(numbers) == 0 {
		return 0
	}
	sum := 0
	for _, n := range numbers {
		sum += n
	}
	return float64(sum) / float64(len(numbers))
}

func countNumbers(window []types.Drawing, rule *types.RuleSet) []float64 {
	counts := make([]float64, rule.MainRangeSize())
	for _, d := range window {
		for _, n := range d.WinningNumbers {
			if n >= rule.MainRangeStart && n <= rule.MainRangeEnd {
				counts[n-rule.MainRangeStart]++
			}
		}
	}
	return counts
}

func sumOf(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for i := 2; i*i <= n; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}
