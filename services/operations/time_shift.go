package operations

import (
	"context"
	"math"
	"time"

	"tsflow/api/services/datasets"
)

const TypeTimeShift = "time_shift"

// TimeShiftConfig moves every timestamp by ShiftSeconds, which may be
// negative or fractional. The bound keeps the shift well inside the range
// of time.Duration.
type TimeShiftConfig struct {
	ShiftSeconds *float64 `json:"shift_seconds" validate:"required,gte=-1e9,lte=1e9"`
}

type TimeShift struct {
	shift time.Duration
}

func NewTimeShift(cfg TimeShiftConfig) (*TimeShift, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &TimeShift{shift: time.Duration(math.Round(*cfg.ShiftSeconds * float64(time.Second)))}, nil
}

func (t *TimeShift) Execute(_ context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	if err := requireTimeSeries(TypeTimeShift, in); err != nil {
		return nil, err
	}
	out := make([]datasets.Sample, len(in.Samples))
	for i, s := range in.Samples {
		s.Timestamp = s.Timestamp.Add(t.shift)
		out[i] = s
	}
	return datasets.NewTimeSeries(out), nil
}
