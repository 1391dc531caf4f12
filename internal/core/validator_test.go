package core

import (
	"testing"

	"escalator/internal/types"
)

type overrideBody struct {
	Kind    string         `json:"kind" validate:"required,oneof=invoice appointment"`
	Offsets map[string]int `json:"offsets" validate:"required,max=16,dive,min=-60,max=365"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := NewValidator()

	if err := v.ValidateStruct(overrideBody{Kind: "invoice", Offsets: map[string]int{"2": 10}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := v.ValidateStruct(overrideBody{Offsets: map[string]int{"2": 10}})
	if !types.IsCode(err, types.ErrCodeValidationMissingField) {
		t.Fatalf("expected missing field, got %v", err)
	}
	var appErr *types.AppError
	appErr, _ = err.(*types.AppError)
	fields, _ := appErr.Details["fields"].(map[string]any)
	if _, ok := fields["overrideBody.kind"]; !ok {
		t.Errorf("expected JSON field name in details, got %+v", fields)
	}

	err = v.ValidateStruct(overrideBody{Kind: "invoice", Offsets: map[string]int{"2": 900}})
	if !types.IsCode(err, types.ErrCodeValidationInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
}
