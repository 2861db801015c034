package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"rxpanel/internal/errors"
)

// newValidator builds the validator used for config structs, with the
// domain tags registered and yaml tag names in error messages
func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterValidation("state", isValidStateCode)
	v.RegisterValidation("fips", isValidFIPS)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// Validate checks tag rules plus the cross-field rules the tags cannot
// express. All violations are fatal configuration errors.
func (c *Config) Validate() error {
	v := newValidator()

	if err := v.Struct(c); err != nil {
		var msgs []string
		for _, fe := range err.(validator.ValidationErrors) {
			msgs = append(msgs, formatFieldError(fe))
		}
		return errors.NewConfigError(strings.Join(msgs, "; "), nil)
	}

	seen := make(map[string]bool, len(c.Cases))
	for i := range c.Cases {
		cc := &c.Cases[i]
		if seen[cc.Name] {
			return errors.NewConfigError(fmt.Sprintf("duplicate case name %q", cc.Name), nil)
		}
		seen[cc.Name] = true

		if err := cc.validateCrossField(c.Pipeline.YearMin, c.Pipeline.YearMax); err != nil {
			return err
		}
	}

	return nil
}

// validateCrossField enforces the per-case rules: the policy year must
// split the panel window, the comparison lists must exclude the treated
// state, and a configured placebo must sit strictly in the pre-period.
func (cc *CaseConfig) validateCrossField(yearMin, yearMax int) error {
	if cc.PolicyYear <= yearMin || cc.PolicyYear > yearMax {
		return errors.NewConfigError(
			fmt.Sprintf("case %q: policy_year %d leaves no pre or post years in window %d-%d",
				cc.Name, cc.PolicyYear, yearMin, yearMax), nil)
	}

	for _, s := range cc.ComparisonStates {
		if s == cc.PolicyState {
			return errors.NewConfigError(
				fmt.Sprintf("case %q: comparison_states must not include the policy state %s",
					cc.Name, cc.PolicyState), nil)
		}
	}
	for _, s := range cc.Robustness.AltComparisonStates {
		if s == cc.PolicyState {
			return errors.NewConfigError(
				fmt.Sprintf("case %q: alt_comparison_states must not include the policy state %s",
					cc.Name, cc.PolicyState), nil)
		}
	}

	r := &cc.Robustness
	if r.PlaceboYear != 0 {
		if r.PlaceboMaxYear == 0 {
			return errors.NewConfigError(
				fmt.Sprintf("case %q: placebo_year set without placebo_max_year", cc.Name), nil)
		}
		if r.PlaceboMaxYear >= cc.PolicyYear {
			return errors.NewConfigError(
				fmt.Sprintf("case %q: placebo_max_year %d must fall before policy_year %d",
					cc.Name, r.PlaceboMaxYear, cc.PolicyYear), nil)
		}
		if r.PlaceboYear <= yearMin || r.PlaceboYear > r.PlaceboMaxYear {
			return errors.NewConfigError(
				fmt.Sprintf("case %q: placebo_year %d leaves no pre or post years in window %d-%d",
					cc.Name, r.PlaceboYear, yearMin, r.PlaceboMaxYear), nil)
		}
	}

	return nil
}

// formatFieldError renders a field error in plain language
func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	tag := err.Tag()
	param := err.Param()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Replace(param, " ", ", ", -1))
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, param)
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, param)
	case "state":
		return fmt.Sprintf("%s must be a two-letter state code", field)
	case "fips":
		return fmt.Sprintf("%s must be a five-digit FIPS code", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

// Custom validators

// isValidStateCode validates a two-letter uppercase state abbreviation
func isValidStateCode(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 2 {
		return false
	}
	for _, ch := range s {
		if ch < 'A' || ch > 'Z' {
			return false
		}
	}
	return true
}

// isValidFIPS validates a five-digit county FIPS code
func isValidFIPS(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != 5 {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
