package datasets_test

import (
	"testing"
	"time"

	"tsflow/api/services/datasets"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestFrameChannelsAndByChannel(t *testing.T) {
	t.Parallel()
	f := datasets.NewTimeSeries([]datasets.Sample{
		{Timestamp: at(20), Channel: 2, Value: 3},
		{Timestamp: at(0), Channel: 1, Value: 1},
		{Timestamp: at(10), Channel: 2, Value: 2},
		{Timestamp: at(10), Channel: 1, Value: 4},
	})

	chans := f.Channels()
	if len(chans) != 2 || chans[0] != 1 || chans[1] != 2 {
		t.Fatalf("expected channels [1 2], got %v", chans)
	}

	by := f.ByChannel()
	ch2 := by[2]
	if len(ch2) != 2 || ch2[0].Value != 2 || ch2[1].Value != 3 {
		t.Errorf("channel 2 not sorted by time: %+v", ch2)
	}
	if f.Samples[0].Value != 3 {
		t.Error("ByChannel must not reorder the frame")
	}
}

func TestSampleRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		samples []datasets.Sample
		want    float64
	}{
		{name: "empty", want: 1},
		{name: "single sample", samples: []datasets.Sample{{Timestamp: at(0)}}, want: 1},
		{name: "zero span", samples: []datasets.Sample{{Timestamp: at(0)}, {Timestamp: at(0)}}, want: 1},
		{
			name:    "100 Hz",
			samples: []datasets.Sample{{Timestamp: at(0)}, {Timestamp: at(10)}, {Timestamp: at(20)}},
			want:    100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := datasets.SampleRate(tt.samples); got != tt.want {
				t.Errorf("SampleRate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := datasets.NewTimeSeries([]datasets.Sample{
		{Timestamp: at(0), Channel: 0, Value: 1},
		{Timestamp: at(500), Channel: 0, Value: 2},
		{Timestamp: at(1000), Channel: 0, Value: 3},
		{Timestamp: at(250), Channel: 1, Value: 9},
	})
	st := f.Stats()
	if st.RowCount != 4 || st.ChannelCount != 2 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.Start == nil || !st.Start.Equal(at(0)) || st.End == nil || !st.End.Equal(at(1000)) {
		t.Errorf("unexpected range: %v .. %v", st.Start, st.End)
	}
	if st.SampleRate == nil || *st.SampleRate != 2 {
		t.Errorf("expected 2 Hz from channel 0, got %v", st.SampleRate)
	}

	sp := datasets.NewSpectrum([]datasets.Bin{{Frequency: 1, Magnitude: 2}})
	sst := sp.Stats()
	if sst.RowCount != 1 || sst.Start != nil || sst.SampleRate != nil {
		t.Errorf("spectrum stats should carry counts only: %+v", sst)
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()
	a := datasets.NewTimeSeries([]datasets.Sample{{Timestamp: at(0), Value: 1}})
	b := datasets.NewTimeSeries([]datasets.Sample{{Timestamp: at(0), Value: 2}, {Timestamp: at(1), Value: 3}})

	out, err := datasets.Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if out.Len() != 3 || out.Samples[0].Value != 1 || out.Samples[2].Value != 3 {
		t.Errorf("unexpected concat order: %+v", out.Samples)
	}

	if _, err := datasets.Concat(a, datasets.NewSpectrum(nil)); err == nil {
		t.Error("expected kind mismatch error")
	}
	if _, err := datasets.Concat(); err == nil {
		t.Error("expected error for no frames")
	}
}
