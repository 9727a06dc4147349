package datasets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	timeSeriesColumns = []string{"timestamp", "channel_id", "value"}
	spectrumColumns   = []string{"frequency", "magnitude", "phase", "channel_id"}
)

// timestampLayouts are tried in order when parsing the timestamp column.
// The space-separated forms are what spreadsheet and pandas exports produce.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Columns returns the header of the frame's CSV form.
func (f *Frame) Columns() []string {
	if f.Kind == KindSpectrum {
		return append([]string(nil), spectrumColumns...)
	}
	return append([]string(nil), timeSeriesColumns...)
}

// WriteCSV encodes the frame with a header row.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns()); err != nil {
		return err
	}
	for _, rec := range f.records(-1) {
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func (f *Frame) records(limit int) [][]string {
	n := f.Len()
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		if f.Kind == KindSpectrum {
			b := f.Bins[i]
			out = append(out, []string{
				formatFloat(b.Frequency), formatFloat(b.Magnitude), formatFloat(b.Phase), strconv.Itoa(b.Channel),
			})
			continue
		}
		s := f.Samples[i]
		out = append(out, []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano), strconv.Itoa(s.Channel), formatFloat(s.Value),
		})
	}
	return out
}

// Rows returns up to limit rows keyed by column name, for previews.
// A negative limit returns every row.
func (f *Frame) Rows(limit int) []map[string]any {
	n := f.Len()
	if limit >= 0 && limit < n {
		n = limit
	}
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		if f.Kind == KindSpectrum {
			b := f.Bins[i]
			out = append(out, map[string]any{
				"frequency": b.Frequency, "magnitude": b.Magnitude, "phase": b.Phase, "channel_id": b.Channel,
			})
			continue
		}
		s := f.Samples[i]
		out = append(out, map[string]any{
			"timestamp": s.Timestamp.UTC().Format(time.RFC3339Nano), "channel_id": s.Channel, "value": s.Value,
		})
	}
	return out
}

// ReadCSV decodes a frame. The kind is detected from the header: a
// frequency column means a spectrum, otherwise timestamp and value are
// required. A missing channel_id column puts every row on channel 0.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty input")
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	kind := KindTimeSeries
	if _, ok := cols["frequency"]; ok {
		kind = KindSpectrum
	}
	required := []string{"timestamp", "value"}
	if kind == KindSpectrum {
		required = []string{"frequency", "magnitude", "phase"}
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("csv: missing column %q", c)
		}
	}

	f := &Frame{Kind: kind}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}

		channel := 0
		if idx, ok := cols["channel_id"]; ok {
			channel, err = strconv.Atoi(strings.TrimSpace(rec[idx]))
			if err != nil {
				return nil, fmt.Errorf("csv: line %d: channel_id: %w", line, err)
			}
		}

		if kind == KindSpectrum {
			var vals [3]float64
			for i, c := range required {
				vals[i], err = parseFinite(rec[cols[c]])
				if err != nil {
					return nil, fmt.Errorf("csv: line %d: %s: %w", line, c, err)
				}
			}
			f.Bins = append(f.Bins, Bin{Frequency: vals[0], Magnitude: vals[1], Phase: vals[2], Channel: channel})
			continue
		}

		ts, err := parseTimestamp(rec[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		v, err := parseFinite(rec[cols["value"]])
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: value: %w", line, err)
		}
		f.Samples = append(f.Samples, Sample{Timestamp: ts, Channel: channel, Value: v})
	}
	return f, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return epochTime(raw, v)
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// Numeric timestamps are seconds since the epoch. Values too large to be
// seconds before the year 5000 are read as milliseconds, and anything
// beyond that range is rejected.
const (
	maxEpochSeconds = 1e11
	maxEpochMillis  = 1e14
)

func epochTime(raw string, v float64) (time.Time, error) {
	a := math.Abs(v)
	switch {
	case math.IsNaN(v) || a >= maxEpochMillis:
		return time.Time{}, fmt.Errorf("timestamp %q out of range", raw)
	case a >= maxEpochSeconds:
		v /= 1e3
	}
	secs := math.Floor(v)
	nsec := math.Round((v - secs) * float64(time.Second))
	return time.Unix(int64(secs), int64(nsec)).UTC(), nil
}

// parseFinite parses a numeric cell. NaN and infinities are rejected since
// they cannot be encoded as JSON.
func parseFinite(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", strings.TrimSpace(raw))
	}
	return v, nil
}
