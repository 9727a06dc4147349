package operations

import (
	"context"
	"encoding/json"
	"fmt"

	"tsflow/api/services/datasets"
)

const TypeFilter = "filter"

const defaultFilterOrder = 4

// Cutoff holds one frequency in Hz, or two for a band. It decodes from
// either a JSON number or a two-element array.
type Cutoff []float64

func (c *Cutoff) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var single float64
	if err := json.Unmarshal(b, &single); err == nil {
		*c = Cutoff{single}
		return nil
	}
	var pair []float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("cutoff must be a number or [low, high]")
	}
	*c = pair
	return nil
}

// FilterConfig configures a Butterworth filter. FilterType defaults to
// lowpass and Order to 4. Bandpass takes Cutoff as [low, high].
type FilterConfig struct {
	FilterType string `json:"filter_type,omitempty" validate:"omitempty,oneof=lowpass highpass bandpass"`
	Cutoff     Cutoff `json:"cutoff" validate:"required,min=1,max=2,dive,gt=0"`
	Order      int    `json:"order,omitempty" validate:"min=0,max=10"`
}

// Filter applies a zero-phase Butterworth filter to every channel.
type Filter struct {
	kind   string
	cutoff Cutoff
	order  int
}

func NewFilter(cfg FilterConfig) (*Filter, error) {
	if cfg.FilterType == "" {
		cfg.FilterType = "lowpass"
	}
	if cfg.Order == 0 {
		cfg.Order = defaultFilterOrder
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if cfg.FilterType == "bandpass" {
		if len(cfg.Cutoff) != 2 {
			return nil, fmt.Errorf("bandpass filter requires cutoff as [low, high]")
		}
		if cfg.Cutoff[0] >= cfg.Cutoff[1] {
			return nil, fmt.Errorf("bandpass cutoff low %g must be below high %g", cfg.Cutoff[0], cfg.Cutoff[1])
		}
	} else if len(cfg.Cutoff) != 1 {
		return nil, fmt.Errorf("%s filter requires a single cutoff frequency", cfg.FilterType)
	}

	return &Filter{kind: cfg.FilterType, cutoff: cfg.Cutoff, order: cfg.Order}, nil
}

// design returns the filter sections for a channel sampled at rate.
func (f *Filter) design(rate float64) ([]biquad, error) {
	nyquist := rate / 2
	for _, c := range f.cutoff {
		if c >= nyquist {
			return nil, fmt.Errorf("cutoff %g Hz must be below the Nyquist frequency %g Hz", c, nyquist)
		}
	}
	switch f.kind {
	case "highpass":
		return butterworth(true, f.order, f.cutoff[0], rate), nil
	case "bandpass":
		hp := butterworth(true, f.order, f.cutoff[0], rate)
		return append(hp, butterworth(false, f.order, f.cutoff[1], rate)...), nil
	default:
		return butterworth(false, f.order, f.cutoff[0], rate), nil
	}
}

func (f *Filter) Execute(ctx context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	if err := requireTimeSeries(TypeFilter, in); err != nil {
		return nil, err
	}

	byChannel := in.ByChannel()
	out := make([]datasets.Sample, 0, len(in.Samples))
	for _, ch := range in.Channels() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples := byChannel[ch]
		if len(samples) < 3 {
			out = append(out, samples...)
			continue
		}

		sections, err := f.design(datasets.SampleRate(samples))
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = s.Value
		}
		for i, v := range filtfilt(sections, values) {
			s := samples[i]
			s.Value = v
			out = append(out, s)
		}
	}
	return datasets.NewTimeSeries(out), nil
}
