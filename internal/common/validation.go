package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator, configured to report JSON field names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// FieldError is one entry of a VALIDATION_FAILED details list.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidateStruct runs struct tag validation and maps failures to a 400 AppError.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError(CodeValidationFailed, "invalid request", http.StatusBadRequest, err)
	}
	details := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, FieldError{Field: fieldPath(fe.Namespace()), Rule: fe.Tag(), Param: fe.Param()})
	}
	appErr := NewAppError(CodeValidationFailed, "invalid request", http.StatusBadRequest, err)
	appErr.Details = details
	return appErr
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

// DecodeJSON reads a JSON request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return NewAppError(CodeInvalidBody, "request body is required", http.StatusBadRequest, nil)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return NewAppError(CodePayloadTooLarge, "request body too large", http.StatusRequestEntityTooLarge, err)
		case errors.Is(err, io.EOF):
			return NewAppError(CodeInvalidBody, "request body is required", http.StatusBadRequest, err)
		default:
			return NewAppError(CodeInvalidBody, "invalid JSON body", http.StatusBadRequest, err)
		}
	}
	return nil
}
