package api

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"meetingalert/internal/types"
)

// Validator checks request bodies against their validate tags and reports
// failures by JSON field name.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator.
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

// Struct validates s. Failures come back as an AppError with code and a
// "fields" detail mapping each failing field path to its rule.
func (v *Validator) Struct(s any, code types.ErrorCode) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Drop the root struct name from the namespace.
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		fields[path] = fe.Tag()
	}
	return types.NewAppError(code, "request validation failed", err).
		WithDetails(map[string]any{"fields": fields})
}
