// Package datasets models the time-series data flowing between workflow
// nodes, its CSV wire format and the store that keeps raw and derived
// datasets in object storage with their metadata in the database.
package datasets

import (
	"fmt"
	"sort"
	"time"
)

// Kind tells which columns a Frame carries.
type Kind string

const (
	// KindTimeSeries rows are timestamp, channel_id, value.
	KindTimeSeries Kind = "timeseries"
	// KindSpectrum rows are frequency, magnitude, phase, channel_id.
	KindSpectrum Kind = "spectrum"
)

// Sample is one time-domain observation of a channel.
type Sample struct {
	Timestamp time.Time
	Channel   int
	Value     float64
}

// Bin is one frequency-domain bin of a channel.
type Bin struct {
	Frequency float64
	Magnitude float64
	Phase     float64
	Channel   int
}

// Frame is a dataset held in memory. Exactly one of Samples or Bins is
// populated, according to Kind.
type Frame struct {
	Kind    Kind
	Samples []Sample
	Bins    []Bin
}

// NewTimeSeries returns a time-series frame over samples.
func NewTimeSeries(samples []Sample) *Frame {
	return &Frame{Kind: KindTimeSeries, Samples: samples}
}

// NewSpectrum returns a spectrum frame over bins.
func NewSpectrum(bins []Bin) *Frame {
	return &Frame{Kind: KindSpectrum, Bins: bins}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f.Kind == KindSpectrum {
		return len(f.Bins)
	}
	return len(f.Samples)
}

// Channels returns the distinct channel ids in ascending order.
func (f *Frame) Channels() []int {
	seen := make(map[int]struct{})
	if f.Kind == KindSpectrum {
		for _, b := range f.Bins {
			seen[b.Channel] = struct{}{}
		}
	} else {
		for _, s := range f.Samples {
			seen[s.Channel] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

// ByChannel splits a time-series frame per channel, each slice sorted by
// timestamp. The frame itself is not modified.
func (f *Frame) ByChannel() map[int][]Sample {
	out := make(map[int][]Sample)
	for _, s := range f.Samples {
		out[s.Channel] = append(out[s.Channel], s)
	}
	for ch := range out {
		samples := out[ch]
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})
	}
	return out
}

// SampleRate estimates the sampling frequency in Hz as the inverse of the
// mean spacing between consecutive samples. Returns 1 when it cannot be
// estimated.
func SampleRate(samples []Sample) float64 {
	if len(samples) < 2 {
		return 1
	}
	span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp).Seconds()
	if span <= 0 {
		return 1
	}
	return float64(len(samples)-1) / span
}

// Stats summarises a frame for the dataset metadata row.
type Stats struct {
	RowCount     int64
	ChannelCount int
	SampleRate   *float64
	Start        *time.Time
	End          *time.Time
}

// Stats computes row count, channel count, and for time series the time
// range and the sample rate of the first channel.
func (f *Frame) Stats() Stats {
	st := Stats{
		RowCount:     int64(f.Len()),
		ChannelCount: len(f.Channels()),
	}
	if f.Kind != KindTimeSeries || len(f.Samples) == 0 {
		return st
	}

	start, end := f.Samples[0].Timestamp, f.Samples[0].Timestamp
	for _, s := range f.Samples[1:] {
		if s.Timestamp.Before(start) {
			start = s.Timestamp
		}
		if s.Timestamp.After(end) {
			end = s.Timestamp
		}
	}
	st.Start, st.End = &start, &end

	channels := f.Channels()
	first := f.ByChannel()[channels[0]]
	if len(first) > 1 {
		rate := SampleRate(first)
		st.SampleRate = &rate
	}
	return st
}

// Concat joins frames in order. All frames must share a kind.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("concat: no frames")
	}
	out := &Frame{Kind: frames[0].Kind}
	for i, f := range frames {
		if f.Kind != out.Kind {
			return nil, fmt.Errorf("concat: frame %d is %s, expected %s", i, f.Kind, out.Kind)
		}
		out.Samples = append(out.Samples, f.Samples...)
		out.Bins = append(out.Bins, f.Bins...)
	}
	return out, nil
}
