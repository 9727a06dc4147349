package operations

import (
	"context"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"tsflow/api/services/datasets"
)

const TypeFFT = "fft"

// FFTConfig configures the spectrum transform. Window is applied to each
// channel before the transform; Normalize (default true) divides magnitudes
// by the channel length.
type FFTConfig struct {
	Window    string `json:"window,omitempty" validate:"omitempty,oneof=hann hamming blackman none"`
	Normalize *bool  `json:"normalize,omitempty"`
}

// FFT turns a time series into a spectrum, one set of non-negative frequency
// bins per channel. The sample rate of each channel is estimated from its
// timestamps.
type FFT struct {
	window    func([]float64) []float64
	normalize bool
}

func NewFFT(cfg FFTConfig) (*FFT, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	f := &FFT{normalize: true}
	if cfg.Normalize != nil {
		f.normalize = *cfg.Normalize
	}
	switch cfg.Window {
	case "hann":
		f.window = window.Hann
	case "hamming":
		f.window = window.Hamming
	case "blackman":
		f.window = window.Blackman
	}
	return f, nil
}

func (f *FFT) Execute(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	if err := requireTimeSeries(TypeFFT, in); err != nil {
		return nil, err
	}

	byChannel := in.ByChannel()
	var bins []datasets.Bin
	for _, ch := range in.Channels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bins = append(bins, f.channel(ch, byChannel[ch])...)
	}
	return datasets.NewSpectrum(bins), nil
}

func (f *FFT) channel(ch int, samples []datasets.Sample) []datasets.Bin {
	n := len(samples)
	values := make([]float64, n)
	for i, s := range samples {
		values[i] = s.Value
	}
	if f.window != nil && n > 1 {
		values = f.window(values)
	}

	rate := datasets.SampleRate(samples)
	coeffs := fourier.NewFFT(n).Coefficients(nil, values)

	// keep frequencies in [0, rate/2); the Nyquist bin of an even-length
	// transform is treated as negative
	keep := (n + 1) / 2
	bins := make([]datasets.Bin, keep)
	for i := 0; i < keep; i++ {
		mag := cmplx.Abs(coeffs[i])
		if f.normalize {
			mag /= float64(n)
		}
		bins[i] = datasets.Bin{
			Frequency: float64(i) * rate / float64(n),
			Magnitude: mag,
			Phase:     cmplx.Phase(coeffs[i]),
			Channel:   ch,
		}
	}
	return bins
}
