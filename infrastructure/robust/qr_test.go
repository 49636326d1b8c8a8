package robust

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQrMedian_MatchesPlainMedianOnCleanData(t *testing.T) {
	tests := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{name: "odd count", values: []float64{1, 2, 3}, expected: 2},
		{name: "single value", values: []float64{7.5}, expected: 7.5},
		{name: "symmetric spread", values: []float64{-4, -1, 0, 1, 4}, expected: 0},
		{name: "all equal", values: []float64{3, 3, 3, 3}, expected: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QrMedian(1.0, 1e-6, tt.values, nil, nil, nil)
			assert.InDelta(t, tt.expected, got, 1e-3)
		})
	}
}

func TestQrQuantile_WeightedQuantiles(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	low := QrQuantile(0.1, 0.1, 1e-6, values, nil, nil, nil)
	high := QrQuantile(0.1, 0.9, 1e-6, values, nil, nil, nil)
	mid := QrQuantile(0.1, 0.5, 1e-6, values, nil, nil, nil)

	assert.Less(t, low, mid)
	assert.Less(t, mid, high)
	assert.InDelta(t, 4.5, mid, 0.6)
	assert.Less(t, low, 1.5)
	assert.Greater(t, high, 7.5)
}

func TestQrQuantile_ZeroWeightPointIsNoOp(t *testing.T) {
	values := []float64{1, 2, 3}
	weights := []float64{1, 1, 1}
	base := QrMedian(1.0, 1e-6, values, weights, nil, nil)

	withGhost := QrMedian(1.0, 1e-6,
		[]float64{1, 2, 3, 1e9},
		[]float64{1, 1, 1, 0}, nil, nil)
	assert.InDelta(t, base, withGhost, 1e-9)
}

func TestQrQuantile_WeightScaleInvariance(t *testing.T) {
	values := []float64{-2, 0, 1, 5}
	weights := []float64{1, 2, 3, 0.5}
	scaled := []float64{7, 14, 21, 3.5}

	a := QrQuantile(1.0, 0.3, 1e-6, values, weights, nil, nil)
	b := QrQuantile(1.0, 0.3, 1e-6, values, scaled, nil, nil)
	assert.InDelta(t, a, b, 1e-6)
}

func TestQrQuantile_TranslationEquivariance(t *testing.T) {
	values := []float64{-1, 0, 2, 4, 9}
	const shift = 13.25

	base := QrQuantile(0.5, 0.4, 1e-6, values, nil, nil, nil)
	shifted := make([]float64, len(values))
	for i, v := range values {
		shifted[i] = v + shift
	}
	moved := QrQuantile(0.5, 0.4, 1e-6, shifted, nil, nil, nil)
	assert.InDelta(t, base+shift, moved, 1e-5)
}

func TestQrQuantile_ZeroTotalWeightReturnsZero(t *testing.T) {
	got := QrQuantile(1.0, 0.5, 1e-6, []float64{5, 6}, []float64{0, 0}, nil, nil)
	assert.Equal(t, 0.0, got)
	assert.Equal(t, 0.0, QrQuantile(1.0, 0.5, 1e-6, nil, nil, nil, nil))
}

func TestQrQuantile_MonotoneInInputs(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	base := QrMedian(1.0, 1e-6, values, nil, nil, nil)

	raised := []float64{1, 2, 4.5, 4, 5}
	higher := QrMedian(1.0, 1e-6, raised, nil, nil, nil)
	assert.GreaterOrEqual(t, higher, base-1e-9)
}

func TestQrMedian_BoundedAdversaryInfluence(t *testing.T) {
	// Nine honest values near 0 and one adversarial value moved to an
	// extreme must shift the median by a bounded amount only.
	honest := []float64{-0.2, -0.1, -0.05, 0, 0, 0.05, 0.1, 0.2, 0.15}
	withModest := append(append([]float64{}, honest...), 0.3)
	withExtreme := append(append([]float64{}, honest...), 1e12)

	a := QrMedian(1.0, 1e-5, withModest, nil, nil, nil)
	b := QrMedian(1.0, 1e-5, withExtreme, nil, nil, nil)
	assert.Less(t, math.Abs(b-a), 0.2)
}

func TestQrStandardDeviation_ReflectsSpread(t *testing.T) {
	tight := []float64{0, 0.01, -0.01, 0.02, -0.02}
	wide := []float64{0, 1, -1, 2, -2}

	sdTight := QrStandardDeviation(0.1, 0, 1e-6, tight, nil, nil, nil)
	sdWide := QrStandardDeviation(0.1, 0, 1e-6, wide, nil, nil, nil)
	assert.Less(t, sdTight, sdWide)
	assert.Greater(t, sdWide, 0.5)
}

func TestQrStandardDeviation_EmptyInput(t *testing.T) {
	assert.Equal(t, 0.0, QrStandardDeviation(0.1, 0, 1e-6, nil, nil, nil, nil))
}

func TestLipschitzResilientMean_MatchesMeanOnConsensus(t *testing.T) {
	// Values within the linear region of the clipped influence behave
	// like a weighted mean.
	values := []float64{0.98, 1.0, 1.02}
	got := LipschitzResilientMean(1.0, 1e-8, values, nil, nil, nil)
	assert.InDelta(t, 1.0, got, 1e-3)
}

func TestLipschitzResilientMean_ExactOnSymmetricPair(t *testing.T) {
	got := LipschitzResilientMean(4.0, 1e-9, []float64{1, 2}, nil, nil, nil)
	assert.InDelta(t, 1.5, got, 1e-6)
}

func TestLipschitzResilientMean_ClipsOutlierInfluence(t *testing.T) {
	// With influence amplitude 1/L, an unbounded outlier of weight 1
	// among 9 honest points can move the mean by roughly 1/(9L) before
	// the honest mass pushes back.
	honest := make([]float64, 9)
	clean := LipschitzResilientMean(1.0, 1e-8, honest, nil, nil, nil)

	polluted := append(append([]float64{}, honest...), 1e9)
	dirty := LipschitzResilientMean(1.0, 1e-8, polluted, nil, nil, nil)
	assert.Less(t, math.Abs(dirty-clean), 0.2)
}

func TestLipschitzResilientMean_TranslationEquivariance(t *testing.T) {
	values := []float64{-1, 0.5, 2, 2.5}
	const shift = -4.75

	base := LipschitzResilientMean(2.0, 1e-8, values, nil, nil, nil)
	shifted := make([]float64, len(values))
	for i, v := range values {
		shifted[i] = v + shift
	}
	moved := LipschitzResilientMean(2.0, 1e-8, shifted, nil, nil, nil)
	assert.InDelta(t, base+shift, moved, 1e-5)
}

func TestLipschitzResilientMean_ZeroWeightReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, LipschitzResilientMean(1.0, 1e-8, []float64{3}, []float64{0}, nil, nil))
	assert.Equal(t, 0.0, LipschitzResilientMean(1.0, 1e-8, nil, nil, nil, nil))
}

func TestUncertainPointsPullLess(t *testing.T) {
	// A certain outlier drags the resilient mean more than the same
	// outlier reported with a wide uncertainty.
	values := []float64{0, 0, 0, 2}
	certain := LipschitzResilientMean(1.0, 1e-8, values, nil, nil, nil)
	uncertain := LipschitzResilientMean(1.0, 1e-8, values, nil,
		[]float64{0, 0, 0, 10}, []float64{0, 0, 0, 10})
	assert.Greater(t, certain, uncertain)
}

func BenchmarkQrMedian(b *testing.B) {
	values := make([]float64, 1000)
	weights := make([]float64, 1000)
	for i := range values {
		values[i] = math.Sin(float64(i))
		weights[i] = 1 + float64(i%7)/10
	}
	b.ResetTimer()
	for range b.N {
		QrMedian(0.1, 1e-5, values, weights, nil, nil)
	}
}
