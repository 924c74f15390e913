// Package validator wraps go-playground/validator with the rules request
// payloads use and reports failures by JSON field name.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError is one failed rule on one field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// ValidationErrors lists every failure in field order.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v))
	for i, failure := range v {
		messages[i] = failure.Message
	}
	return strings.Join(messages, "; ")
}

// Fields maps each failing field to its first message.
func (v ValidationErrors) Fields() map[string]string {
	fields := make(map[string]string, len(v))
	for _, failure := range v {
		if _, seen := fields[failure.Field]; !seen {
			fields[failure.Field] = failure.Message
		}
	}
	return fields
}

var instance = sync.OnceValue(func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("notblank", notBlank)
	_ = v.RegisterValidation("role", roleName)
	return v
})

// ValidateStruct runs the struct's validate tags. Rule failures come back as
// ValidationErrors; anything else (a nil or non-struct value) is returned as is.
func ValidateStruct(s any) error {
	err := instance().Struct(s)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	failures := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		failures = append(failures, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: describe(fe.Field(), fe.Tag(), fe.Param()),
		})
	}
	return failures
}

// ValidateVar checks a single value against a tag expression.
func ValidateVar(value any, tag string) error {
	return instance().Var(value, tag)
}

func describe(field, tag, param string) string {
	label := strings.ReplaceAll(field, "_", " ")
	switch tag {
	case "required", "required_without":
		return label + " is required"
	case "notblank":
		return label + " must not be blank"
	case "email":
		return label + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, param)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", label, param)
	case "lte":
		return fmt.Sprintf("%s must be at most %s", label, param)
	case "role":
		return label + " must be one of Staff, Leadership or Admin"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", label, strings.ReplaceAll(param, " ", ", "))
	case "uuid", "uuid4":
		return label + " must be a valid identifier"
	}
	if param != "" {
		return fmt.Sprintf("%s failed validation: %s=%s", label, tag, param)
	}
	return fmt.Sprintf("%s failed validation: %s", label, tag)
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return fld.Name
	}
	return name
}

func notBlank(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.String {
		return true
	}
	return strings.TrimSpace(field.String()) != ""
}

// roleName accepts the three role names in any casing.
func roleName(fl validator.FieldLevel) bool {
	switch strings.ToLower(strings.TrimSpace(fl.Field().String())) {
	case "staff", "leadership", "admin":
		return true
	}
	return false
}
