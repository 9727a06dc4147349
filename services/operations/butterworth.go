package operations

import "math"

// biquad is one second-order IIR section with a0 normalized to 1. First-order
// sections leave b2 and a2 at zero.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// dcGain is the section's response to a constant input.
func (q biquad) dcGain() float64 {
	den := 1 + q.a1 + q.a2
	if den == 0 {
		return 0
	}
	return (q.b0 + q.b1 + q.b2) / den
}

// apply filters x in transposed direct form II. The state starts at the
// steady state for a constant input equal to x[0], which avoids the start-up
// transient.
func (q biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	if len(x) == 0 {
		return y
	}
	x0 := x[0]
	y0 := q.dcGain() * x0
	z2 := q.b2*x0 - q.a2*y0
	z1 := q.b1*x0 - q.a1*y0 + z2

	for i, v := range x {
		out := q.b0*v + z1
		z1 = q.b1*v - q.a1*out + z2
		z2 = q.b2*v - q.a2*out
		y[i] = out
	}
	return y
}

// butterworth designs a digital Butterworth lowpass or highpass of the given
// order as a cascade of sections, via the bilinear transform with
// pre-warping.
func butterworth(highpass bool, order int, cutoff, rate float64) []biquad {
	var sections []biquad

	w0 := 2 * math.Pi * cutoff / rate
	cw, sw := math.Cos(w0), math.Sin(w0)
	for k := 0; k < order/2; k++ {
		q := 1 / (2 * math.Sin(float64(2*k+1)*math.Pi/float64(2*order)))
		alpha := sw / (2 * q)
		a0 := 1 + alpha

		var s biquad
		if highpass {
			s = biquad{b0: (1 + cw) / 2, b1: -(1 + cw), b2: (1 + cw) / 2}
		} else {
			s = biquad{b0: (1 - cw) / 2, b1: 1 - cw, b2: (1 - cw) / 2}
		}
		s.a1, s.a2 = -2*cw, 1-alpha
		s.b0, s.b1, s.b2 = s.b0/a0, s.b1/a0, s.b2/a0
		s.a1, s.a2 = s.a1/a0, s.a2/a0
		sections = append(sections, s)
	}

	if order%2 == 1 {
		k := math.Tan(math.Pi * cutoff / rate)
		s := biquad{a1: (k - 1) / (k + 1)}
		if highpass {
			s.b0 = 1 / (k + 1)
			s.b1 = -s.b0
		} else {
			s.b0 = k / (k + 1)
			s.b1 = s.b0
		}
		sections = append(sections, s)
	}
	return sections
}

func cascade(sections []biquad, x []float64) []float64 {
	for _, s := range sections {
		x = s.apply(x)
	}
	return x
}

// filtfilt runs the cascade forward and then backward, giving zero phase
// distortion. The signal is padded at both ends with its odd reflection to
// damp edge effects.
func filtfilt(sections []biquad, x []float64) []float64 {
	n := len(x)
	pad := 3 * (2*len(sections) + 1)
	if pad > n-1 {
		pad = n - 1
	}
	if pad < 0 {
		pad = 0
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	y := cascade(sections, ext)
	reverse(y)
	y = cascade(sections, y)
	reverse(y)
	return y[pad : pad+n]
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
