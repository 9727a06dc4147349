package datasets

import (
	"fmt"
	"time"
)

// Series is one channel of a frame shaped for charting: timestamps against
// values for time series, frequency against magnitude for spectra.
type Series struct {
	Kind     Kind      `json:"kind"`
	Channel  int       `json:"channelId"`
	Channels []int     `json:"channels"`
	XLabel   string    `json:"xLabel"`
	YLabel   string    `json:"yLabel"`
	X        []any     `json:"x"`
	Y        []float64 `json:"y"`
}

// Plot extracts up to limit points of one channel. A nil channel selects
// the lowest channel id. A negative limit returns every point.
func (f *Frame) Plot(channel *int, limit int) (Series, error) {
	channels := f.Channels()
	s := Series{Kind: f.Kind, Channels: channels, X: []any{}, Y: []float64{}}
	if len(channels) == 0 {
		return s, nil
	}

	s.Channel = channels[0]
	if channel != nil {
		found := false
		for _, ch := range channels {
			if ch == *channel {
				found = true
				break
			}
		}
		if !found {
			return Series{}, fmt.Errorf("channel %d not in dataset (available: %v)", *channel, channels)
		}
		s.Channel = *channel
	}

	full := func() bool { return limit >= 0 && len(s.Y) >= limit }

	if f.Kind == KindSpectrum {
		s.XLabel, s.YLabel = "frequency", "magnitude"
		for _, b := range f.Bins {
			if full() {
				break
			}
			if b.Channel == s.Channel {
				s.X = append(s.X, b.Frequency)
				s.Y = append(s.Y, b.Magnitude)
			}
		}
		return s, nil
	}

	s.XLabel, s.YLabel = "timestamp", "value"
	for _, smp := range f.ByChannel()[s.Channel] {
		if full() {
			break
		}
		s.X = append(s.X, smp.Timestamp.UTC().Format(time.RFC3339Nano))
		s.Y = append(s.Y, smp.Value)
	}
	return s, nil
}
