package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxInputs is the largest number of targets a single job accepts.
const MaxInputs = 5

// newValidator returns a validator with the audit struct-level rules registered.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterStructValidation(validateCompetitorMode, InputData{})
	return validate
}

// validateCompetitorMode requires exactly one primary and one competitor URL.
func validateCompetitorMode(sl validator.StructLevel) {
	data := sl.Current().Interface().(InputData)
	if data.Mode() != ModeCompetitor {
		return
	}
	if len(data.Inputs) != 2 {
		sl.ReportError(data.Inputs, "Inputs", "inputs", "competitor_pair", "")
		return
	}
	var primary, competitor int
	for i, in := range data.Inputs {
		if in.Type != InputURL || in.URL == "" {
			sl.ReportError(data.Inputs, "Inputs", "inputs", "competitor_url", "")
			return
		}
		switch data.RoleOf(i) {
		case RolePrimary:
			primary++
		case RoleCompetitor:
			competitor++
		}
	}
	if primary != 1 || competitor != 1 {
		sl.ReportError(data.Inputs, "Inputs", "inputs", "competitor_roles", "")
	}
}

// Validate validates the InputData using the validator.
func (d *InputData) Validate() error {
	return newValidator().Struct(d)
}

// DescribeValidationError flattens validator errors into one readable line.
func DescribeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return strings.Join(msgs, "; ")
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "required_if":
		return fmt.Sprintf("%s is required for this input type", fe.Namespace())
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Namespace(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must contain at most %s item(s)", fe.Namespace(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Namespace())
	case "base64":
		return fmt.Sprintf("%s must be base64 encoded", fe.Namespace())
	case "competitor_pair":
		return "competitor mode requires exactly two inputs"
	case "competitor_url":
		return "competitor mode requires two URL inputs"
	case "competitor_roles":
		return "competitor mode requires one primary and one competitor input"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
