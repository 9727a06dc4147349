package operations

import (
	"context"
	"sort"

	"tsflow/api/services/datasets"
)

const TypeUnitConversion = "unit_conversion"

// conversions are the fixed unit conversions. scale and offset are
// parameterised and handled separately.
var conversions = map[string]func(float64) float64{
	// temperature
	"celsius_to_fahrenheit": func(x float64) float64 { return x*9/5 + 32 },
	"fahrenheit_to_celsius": func(x float64) float64 { return (x - 32) * 5 / 9 },
	"celsius_to_kelvin":     func(x float64) float64 { return x + 273.15 },
	"kelvin_to_celsius":     func(x float64) float64 { return x - 273.15 },

	// length
	"meters_to_feet":   func(x float64) float64 { return x * 3.28084 },
	"feet_to_meters":   func(x float64) float64 { return x / 3.28084 },
	"meters_to_inches": func(x float64) float64 { return x * 39.3701 },
	"inches_to_meters": func(x float64) float64 { return x / 39.3701 },

	// velocity
	"mps_to_mph":  func(x float64) float64 { return x * 2.23694 },
	"mph_to_mps":  func(x float64) float64 { return x / 2.23694 },
	"mps_to_kmph": func(x float64) float64 { return x * 3.6 },
	"kmph_to_mps": func(x float64) float64 { return x / 3.6 },

	// pressure
	"pa_to_psi": func(x float64) float64 { return x * 0.000145038 },
	"psi_to_pa": func(x float64) float64 { return x / 0.000145038 },
	"pa_to_bar": func(x float64) float64 { return x / 100000 },
	"bar_to_pa": func(x float64) float64 { return x * 100000 },

	// voltage
	"mv_to_v": func(x float64) float64 { return x / 1000 },
	"v_to_mv": func(x float64) float64 { return x * 1000 },

	"scale":  nil,
	"offset": nil,
}

// Conversions lists the supported conversion names, sorted.
func Conversions() []string {
	out := make([]string, 0, len(conversions))
	for name := range conversions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// UnitConversionConfig selects a conversion. Factor applies to "scale"
// (default 1), Offset to "offset" (default 0).
type UnitConversionConfig struct {
	Conversion string   `json:"conversion" validate:"required,conversion"`
	Factor     *float64 `json:"factor,omitempty"`
	Offset     *float64 `json:"offset,omitempty"`
}

// UnitConversion rewrites every sample value; timestamps and channels are
// untouched.
type UnitConversion struct {
	cfg     UnitConversionConfig
	convert func(float64) float64
}

func NewUnitConversion(cfg UnitConversionConfig) (*UnitConversion, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	convert := conversions[cfg.Conversion]
	switch cfg.Conversion {
	case "scale":
		factor := 1.0
		if cfg.Factor != nil {
			factor = *cfg.Factor
		}
		convert = func(x float64) float64 { return x * factor }
	case "offset":
		offset := 0.0
		if cfg.Offset != nil {
			offset = *cfg.Offset
		}
		convert = func(x float64) float64 { return x + offset }
	}
	return &UnitConversion{cfg: cfg, convert: convert}, nil
}

func (u *UnitConversion) Execute(_ context.Context, in *datasets.Frame) (*datasets.Frame, error) {
	if err := requireTimeSeries(TypeUnitConversion, in); err != nil {
		return nil, err
	}
	out := make([]datasets.Sample, len(in.Samples))
	for i, s := range in.Samples {
		s.Value = u.convert(s.Value)
		out[i] = s
	}
	return datasets.NewTimeSeries(out), nil
}
