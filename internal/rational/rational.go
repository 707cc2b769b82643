// Package rational implements the rational frame-rate correction scheme
// described by the capture stage: a requested frames-per-second value is
// approximated as a fraction so that the nanosecond remainder of 1e9/fps
// can be amortised exactly across frames instead of accumulating drift.
package rational

// Rational is a normalized numerator/denominator pair.
type Rational struct {
	Num, Den int64
}

// Approximate returns the best rational approximation of x with a
// denominator no larger than maxDenom, using the standard continued
// fraction expansion (the same technique behind Stern-Brocot / Farey
// approximation). x must be finite and non-negative.
func Approximate(x float64, maxDenom int64) Rational {
	if x <= 0 {
		return Rational{Num: 0, Den: 1}
	}
	if maxDenom < 1 {
		maxDenom = 1
	}

	// Continued fraction convergents p[k]/q[k].
	var h0, h1 int64 = 0, 1
	var k0, k1 int64 = 1, 0
	rem := x

	for i := 0; i < 64; i++ {
		a := int64(rem)
		h2 := a*h1 + h0
		k2 := a*k1 + k0

		if k2 > maxDenom {
			break
		}

		h0, h1 = h1, h2
		k0, k1 = k1, k2

		frac := rem - float64(a)
		if frac < 1e-9 {
			break
		}
		rem = 1 / frac
	}

	if k1 == 0 {
		return Rational{Num: h1, Den: 1}
	}
	return Rational{Num: h1, Den: k1}
}

// Invert returns the reciprocal 1/r as a normalized rational.
func (r Rational) Invert() Rational {
	if r.Num == 0 {
		return Rational{Num: 0, Den: 1}
	}
	return Rational{Num: r.Den, Den: r.Num}
}

// Mul returns r * s.
func (r Rational) Mul(s Rational) Rational {
	return Rational{Num: r.Num * s.Num, Den: r.Den * s.Den}
}

// FPSPeriod computes the nanosecond period, remainder and correction
// period for a target frame rate: over any window of N frames with
// N mod remPeriod == 0, total elapsed time equals
// N*period + (N/remPeriod)*rem, matching the source rate exactly in the
// long run despite period being an integer number of nanoseconds.
func FPSPeriod(fps float64) (period, rem uint64, remPeriod uint32) {
	const nsPerSecNum = 1000000000
	const maxDenom = 1001000

	a := Approximate(fps, maxDenom)
	b := Rational{Num: nsPerSecNum, Den: 1}
	c := b.Mul(a.Invert())

	if c.Den == 0 {
		return uint64(c.Num), 0, 1
	}

	period = uint64(c.Num / c.Den)
	rem = uint64(c.Num % c.Den)
	remPeriod = uint32(c.Den)
	return period, rem, remPeriod
}
