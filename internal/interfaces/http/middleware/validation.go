package middleware

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/automna/backend/internal/domain/billing"
)

var setupValidatorOnce sync.Once

// SetupValidator configures gin's binding validator with JSON field
// names and the custom tags the request DTOs use. Safe to call more
// than once.
func SetupValidator() {
	setupValidatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		// Report field names as they appear on the wire
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		// eventkind accepts only the billable event kinds
		_ = v.RegisterValidation("eventkind", func(fl validator.FieldLevel) bool {
			return billing.EventKind(fl.Field().String()).IsValid()
		})
	})
}

// ValidationMessage flattens a binding error into one readable line.
// Non-validator errors (malformed JSON, wrong types) pass through
// unchanged.
func ValidationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, e.Field()+": "+fieldMessage(e))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "this field is required"
	case "eventkind":
		return "unknown event kind"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte", "min":
		return "must be at least " + e.Param()
	case "lte", "max":
		return "must be at most " + e.Param()
	case "uuid":
		return "invalid UUID"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "invalid value"
	}
}
