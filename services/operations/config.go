package operations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"tsflow/api/services/datasets"
)

// configValidate checks operation configs after defaults are applied.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	// report fields by their JSON names
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = configValidate.RegisterValidation("conversion", func(fl validator.FieldLevel) bool {
		_, ok := conversions[fl.Field().String()]
		return ok
	})
}

// decodeConfig unmarshals raw into dst. An absent or null config decodes as
// the zero value so operations with only optional parameters accept it.
func decodeConfig(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// validateConfig runs the struct tags of cfg and flattens the first failure
// into a readable message.
func validateConfig(cfg any) error {
	err := configValidate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "conversion":
		return fmt.Errorf("unknown conversion: %v (supported: %v)", fe.Value(), Conversions())
	default:
		return fmt.Errorf("%s failed %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// requireTimeSeries rejects spectrum or missing input for operations that
// work on samples.
func requireTimeSeries(op string, in *datasets.Frame) error {
	if in == nil {
		return fmt.Errorf("%s: no input", op)
	}
	if in.Kind != datasets.KindTimeSeries {
		return fmt.Errorf("%s: expects time series input, got %s", op, in.Kind)
	}
	return nil
}
