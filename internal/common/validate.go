package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// FieldError is a field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Decode reads a JSON body into dst and validates its struct tags. An empty
// body is accepted when allowEmpty is set.
func Decode(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return BadRequest("invalid payload", nil)
		}
	}
	return ValidateStruct(dst)
}

// ValidateStruct runs the validator against v and maps failures to a Validation AppError.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return BadRequest("invalid payload", nil)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return Validation("invalid payload", err, fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "uuid", "uuid4":
		return fe.Field() + " must be a UUID"
	case "gte", "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "lte", "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
