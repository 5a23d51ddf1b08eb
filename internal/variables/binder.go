// Package variables implements the Variable Binder (spec §4.2): it
// validates resolved values against a blueprint's declared variable
// schema, coerces types, and partitions the result into native vs.
// cloud-parameter bags.
package variables

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// Binder applies a VariableSchema to a map of resolved values.
type Binder struct {
	validate *validator.Validate
}

// NewBinder returns a Binder backed by go-playground/validator for the
// `validator:` constraint (spec §4.2 step 2).
func NewBinder() *Binder {
	return &Binder{validate: validator.New()}
}

// Bind implements the four steps of spec §4.2:
//  1. select input or default, else MissingVariable;
//  2. validate allowed_values/allowed_pattern/min-max/validator (the
//     declared type is not checked);
//  3. partition into native vs. cloud-parameter bags;
//  4. reject unknown inputs with UnknownVariable (strict by default).
func (b *Binder) Bind(schema stackset.VariableSchema, resolved map[string]interface{}) (stackset.BoundVariables, error) {
	bound := stackset.BoundVariables{
		Native:         make(map[string]interface{}),
		CloudParameter: make(map[string]string),
		NoEcho:         make(map[string]bool),
	}

	declared := make(map[string]struct{}, len(schema.Variables))
	for _, def := range schema.Variables {
		declared[def.Name] = struct{}{}

		value, present := resolved[def.Name]
		if !present {
			if def.HasDefault {
				value = def.Default
			} else {
				return bound, &stackset.DomainError{
					Code:    stackset.ErrCodeMissingVariable,
					Message: "required variable not provided and has no default",
					Context: map[string]interface{}{"variable": def.Name},
				}
			}
		}

		if err := validateValue(b.validate, def, value); err != nil {
			return bound, err
		}

		switch def.Kind {
		case stackset.VariableKindCloudParameter:
			bound.CloudParameter[def.Name] = coerceCloudParameter(value)
			bound.NoEcho[def.Name] = def.NoEcho
		default:
			bound.Native[def.Name] = value
		}
	}

	for name := range resolved {
		if _, ok := declared[name]; !ok {
			return bound, &stackset.DomainError{
				Code:    stackset.ErrCodeUnknownVariable,
				Message: "variable not declared by blueprint",
				Context: map[string]interface{}{"variable": name},
			}
		}
	}

	return bound, nil
}

// coerceCloudParameter coerces booleans to "true"/"false" for
// cloud-parameter variables; native variables retain original typing
// (spec §9 "Value coercion" — preserved exactly).
func coerceCloudParameter(value interface{}) string {
	switch v := value.(type) {
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func validateValue(v *validator.Validate, def stackset.VariableDef, value interface{}) error {
	if len(def.AllowedValues) > 0 {
		s := fmt.Sprintf("%v", value)
		found := false
		for _, allowed := range def.AllowedValues {
			if allowed == s {
				found = true
				break
			}
		}
		if !found {
			return &stackset.DomainError{
				Code:    stackset.ErrCodeValidation,
				Message: "value not in allowed_values",
				Context: map[string]interface{}{"variable": def.Name, "value": s},
			}
		}
	}

	if def.AllowedPattern != "" {
		re, err := regexp.Compile(def.AllowedPattern)
		if err != nil {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "invalid allowed_pattern", Cause: err}
		}
		s := fmt.Sprintf("%v", value)
		if !re.MatchString(s) {
			return &stackset.DomainError{
				Code:    stackset.ErrCodeValidation,
				Message: "value does not match allowed_pattern",
				Context: map[string]interface{}{"variable": def.Name, "pattern": def.AllowedPattern},
			}
		}
	}

	if def.MinLength != nil || def.MaxLength != nil {
		s := fmt.Sprintf("%v", value)
		if def.MinLength != nil && len(s) < *def.MinLength {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "value shorter than min_length", Context: map[string]interface{}{"variable": def.Name}}
		}
		if def.MaxLength != nil && len(s) > *def.MaxLength {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "value longer than max_length", Context: map[string]interface{}{"variable": def.Name}}
		}
	}

	if def.MinValue != nil || def.MaxValue != nil {
		n, err := toFloat(value)
		if err != nil {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "value is not numeric", Context: map[string]interface{}{"variable": def.Name}}
		}
		if def.MinValue != nil && n < *def.MinValue {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "value below min_value", Context: map[string]interface{}{"variable": def.Name}}
		}
		if def.MaxValue != nil && n > *def.MaxValue {
			return &stackset.DomainError{Code: stackset.ErrCodeValidation, Message: "value above max_value", Context: map[string]interface{}{"variable": def.Name}}
		}
	}

	if def.Validator != "" {
		s := fmt.Sprintf("%v", value)
		if err := v.Var(s, def.Validator); err != nil {
			return &stackset.DomainError{
				Code:    stackset.ErrCodeValidation,
				Message: "validator constraint failed",
				Cause:   err,
				Context: map[string]interface{}{"variable": def.Name, "validator": def.Validator},
			}
		}
	}

	return nil
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("not numeric: %v", v)
	}
}
