// Package robust implements the Lipschitz-bounded robust estimators the
// pipeline aggregates with: quantiles, deviations, and a clipped-
// influence mean. Every estimator bounds the effect a single input can
// have on the result, which is what makes the downstream collective
// scores resilient to adversarial contributors.
//
// All estimators are deterministic, treat a zero-weight point as absent,
// are invariant under positive rescaling of the weights, and commute
// with adding a constant to every value.
package robust

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ahrav/go-consensus/infrastructure/solver"
)

// DefaultTolerance is the smoothing and root tolerance used when a
// caller passes a non-positive tolerance.
const DefaultTolerance = 1e-5

// stdQuantile is the fraction of a one-sided normal distribution within
// one standard deviation; QrStandardDeviation reads the deviation
// distribution at this quantile by default.
const stdQuantile = 0.682689492137086

// tanhSaturation is the |z| beyond which tanh(z) is numerically ±1;
// used to size root brackets.
const tanhSaturation = 20.0

// QrQuantile returns the weighted quantile of values with
// Lipschitz-bounded sensitivity to any single input.
//
// The returned x solves
//
//	sum_i w_i * H((x - v_i) / width_i) = q * sum_i w_i
//
// where H(z) = (1+tanh(z))/2 is a smoothed step and width_i combines the
// Lipschitz constant, the tolerance, and the point's uncertainty on the
// side facing x. Smoothing keeps the derivative of x with respect to any
// v_i bounded, so one contributor moving a value arbitrarily far drags
// the quantile by a bounded amount only.
//
// weights may be nil (all ones). leftUnc and rightUnc may be nil
// (zeros). A zero total weight returns 0; callers treat that as "no
// information" and substitute their own default with MaxUncertainty.
func QrQuantile(lipschitz, quantile, tolerance float64, values, weights, leftUnc, rightUnc []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	totalWeight := sumWeights(weights, n)
	if totalWeight <= 0 {
		return 0
	}
	q := math.Min(math.Max(quantile, 1e-9), 1-1e-9)

	lo, hi := bracketAround(values, weights, lipschitz, tolerance, leftUnc, rightUnc)
	if lo == hi {
		return lo
	}

	target := q * totalWeight
	count := func(x float64) float64 {
		var c float64
		for i, v := range values {
			w := weightAt(weights, i)
			if w == 0 {
				continue
			}
			width := lipschitz*tolerance + uncertaintyAt(leftUnc, rightUnc, i, x, v)
			c += w * 0.5 * (1 + math.Tanh((x-v)/width))
		}
		return c - target
	}

	x, err := solver.Brentq(count, lo, hi, tolerance, 0)
	if err != nil {
		// The soft count spans (0, totalWeight) over the bracket, so a
		// missing sign change can only mean the quantile sits on an
		// endpoint.
		if count(lo) > 0 {
			return lo
		}
		return hi
	}
	return x
}

// QrMedian is QrQuantile at q = 0.5.
func QrMedian(lipschitz, tolerance float64, values, weights, leftUnc, rightUnc []float64) float64 {
	return QrQuantile(lipschitz, 0.5, tolerance, values, weights, leftUnc, rightUnc)
}

// QrStandardDeviation estimates a robust spread: the devQuantile-th
// qr-quantile of the absolute deviations from the qr-median. Pass
// devQuantile <= 0 for the one-sigma default.
func QrStandardDeviation(lipschitz, devQuantile, tolerance float64, values, weights, leftUnc, rightUnc []float64) float64 {
	if devQuantile <= 0 {
		devQuantile = stdQuantile
	}
	if len(values) == 0 || sumWeights(weights, len(values)) <= 0 {
		return 0
	}
	med := QrMedian(lipschitz, tolerance, values, weights, leftUnc, rightUnc)
	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - med)
	}
	return QrQuantile(lipschitz, devQuantile, tolerance, devs, weights, leftUnc, rightUnc)
}

// LipschitzResilientMean returns a Huber-like weighted mean whose
// influence function is clipped to amplitude 1/lipschitz: the result x
// solves
//
//	sum_i w_i * (1/L) * tanh(L * (v_i - x) / (1 + u_i)) = 0.
//
// Near consensus the estimator behaves like the weighted mean; a point
// far from the rest saturates and can pull the result by at most
// w_i/L regardless of how extreme its value is. Points with larger
// uncertainties pull with a flatter slope.
//
// A zero total weight returns 0.
func LipschitzResilientMean(lipschitz, tolerance float64, values, weights, leftUnc, rightUnc []float64) float64 {
	n := len(values)
	if n == 0 || lipschitz <= 0 {
		return 0
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if sumWeights(weights, n) <= 0 {
		return 0
	}

	lo, hi := weightedRange(values, weights)
	if lo == hi {
		return lo
	}

	pull := func(x float64) float64 {
		var g float64
		for i, v := range values {
			w := weightAt(weights, i)
			if w == 0 {
				continue
			}
			u := uncertaintyAt(leftUnc, rightUnc, i, x, v)
			g += w / lipschitz * math.Tanh(lipschitz*(v-x)/(1+u))
		}
		return g
	}

	// pull is monotone decreasing with pull(lo) >= 0 >= pull(hi), so the
	// bracket always straddles the root.
	x, err := solver.Brentq(pull, lo, hi, tolerance, 0)
	if err != nil {
		return 0.5 * (lo + hi)
	}
	return x
}

// sumWeights totals the first n weights, treating a nil slice as all
// ones.
func sumWeights(weights []float64, n int) float64 {
	if weights == nil {
		return float64(n)
	}
	return floats.Sum(weights)
}

func weightAt(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

// uncertaintyAt picks the uncertainty on the side of point i that faces
// x: the left uncertainty when x sits below the value, the right one
// otherwise.
func uncertaintyAt(leftUnc, rightUnc []float64, i int, x, v float64) float64 {
	if x < v {
		if leftUnc == nil {
			return 0
		}
		return leftUnc[i]
	}
	if rightUnc == nil {
		return 0
	}
	return rightUnc[i]
}

// weightedRange returns the min and max of the positively weighted
// values.
func weightedRange(values, weights []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if weightAt(weights, i) <= 0 {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

// bracketAround returns an interval guaranteed to contain any smoothed
// quantile of the weighted values: the weighted range padded by the
// saturation length of the widest step.
func bracketAround(values, weights []float64, lipschitz, tolerance float64, leftUnc, rightUnc []float64) (float64, float64) {
	lo, hi := weightedRange(values, weights)
	maxWidth := lipschitz * tolerance
	for i := range values {
		if weightAt(weights, i) <= 0 {
			continue
		}
		if leftUnc != nil {
			maxWidth = math.Max(maxWidth, lipschitz*tolerance+leftUnc[i])
		}
		if rightUnc != nil {
			maxWidth = math.Max(maxWidth, lipschitz*tolerance+rightUnc[i])
		}
	}
	pad := tanhSaturation * maxWidth
	return lo - pad, hi + pad
}
