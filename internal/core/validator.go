package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"escalator/internal/types"
)

// Validator wraps go-playground/validator and reports failures as AppErrors
// naming the offending JSON fields.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// ValidateStruct validates s. Missing required fields map to
// validation_missing_required_field, any other rule to
// validation_invalid_value.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(fieldErrs))
	code := types.ErrCodeValidationInvalidValue
	for _, fe := range fieldErrs {
		fields[fe.Namespace()] = fe.Tag()
		if fe.Tag() == "required" {
			code = types.ErrCodeValidationMissingField
		}
	}
	first := fieldErrs[0]
	return types.NewAppErrorWithDetails(code,
		fmt.Sprintf("field %s failed rule %q", first.Field(), first.Tag()), err,
		map[string]any{"fields": fields})
}
