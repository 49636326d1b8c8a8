// Package solver provides the scalar root-finding and coordinate-descent
// kernels the score pipeline is built on. The kernels are tight loops
// over plain float64 slices; they allocate nothing on the hot path and
// use no randomness, so identical inputs always produce identical
// outputs.
package solver

import (
	"math"

	"github.com/ahrav/go-consensus/internal/ports"
)

// machineEpsilon is the float64 unit roundoff used for the interval
// convergence test.
const machineEpsilon = 2.220446049250313e-16

// DefaultMaxIterations bounds one Brentq run. The method converges
// superlinearly; a bracketed root that survives this many iterations
// indicates a discontinuous or NaN-producing objective.
const DefaultMaxIterations = 100

// Brentq finds a root of f inside the bracket [a, b] using Brent's
// method: inverse quadratic interpolation guarded by bisection.
// It returns ports.ErrNoBracket when f(a) and f(b) have the same sign,
// and ports.ErrNoConvergence when maxIter iterations did not shrink the
// interval below xtol.
func Brentq(f func(float64) float64, a, b, xtol float64, maxIter int) (float64, error) {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	fa, fb := f(a), f(b)
	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}
	if (fa > 0) == (fb > 0) {
		return 0, ports.ErrNoBracket
	}

	c, fc := a, fa
	d := b - a
	e := d

	for range maxIter {
		if (fb > 0) == (fc > 0) {
			// Root no longer bracketed by [b, c]; reset c to the
			// opposite endpoint.
			c, fc = a, fa
			d = b - a
			e = d
		}
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tol := 2*machineEpsilon*math.Abs(b) + 0.5*xtol
		mid := 0.5 * (c - b)
		if math.Abs(mid) <= tol || fb == 0 {
			return b, nil
		}

		if math.Abs(e) >= tol && math.Abs(fa) > math.Abs(fb) {
			// Attempt interpolation: secant when only two points are
			// distinct, inverse quadratic otherwise.
			s := fb / fa
			var p, q float64
			if a == c {
				p = 2 * mid * s
				q = 1 - s
			} else {
				qq := fa / fc
				r := fb / fc
				p = s * (2*mid*qq*(qq-r) - (b-a)*(r-1))
				q = (qq - 1) * (r - 1) * (s - 1)
			}
			if p > 0 {
				q = -q
			}
			p = math.Abs(p)
			min1 := 3*mid*q - math.Abs(tol*q)
			min2 := math.Abs(e * q)
			if 2*p < math.Min(min1, min2) {
				e = d
				d = p / q
			} else {
				// Interpolation unacceptable; bisect.
				d = mid
				e = d
			}
		} else {
			d = mid
			e = d
		}

		a, fa = b, fb
		if math.Abs(d) > tol {
			b += d
		} else {
			b += math.Copysign(tol, mid)
		}
		fb = f(b)
	}
	return b, ports.ErrNoConvergence
}

// BrentqExpand behaves like Brentq but, when the initial bracket does
// not straddle a sign change, grows it geometrically around its center
// up to maxExpand times before giving up. Objectives in the pipeline are
// monotone, so an expanded bracket eventually captures the root whenever
// one exists.
func BrentqExpand(f func(float64) float64, a, b, xtol float64, maxIter, maxExpand int) (float64, error) {
	lo, hi := a, b
	for range maxExpand + 1 {
		if flo, fhi := f(lo), f(hi); flo == 0 {
			return lo, nil
		} else if fhi == 0 {
			return hi, nil
		} else if (flo > 0) != (fhi > 0) {
			return Brentq(f, lo, hi, xtol, maxIter)
		}
		half := (hi - lo) / 2
		lo -= half
		hi += half
	}
	return 0, ports.ErrNoBracket
}
