package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

// ValidationErrors collects multiple validation failures.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	parts := make([]string, len(v))
	for i, failure := range v {
		part := failure.Field + " failed on " + failure.Tag
		if failure.Param != "" {
			part += "=" + failure.Param
		}
		parts[i] = part
	}
	return strings.Join(parts, "; ")
}

// ValidateStruct validates a struct using registered rules.
func ValidateStruct(s interface{}) error {
	return translate(getValidator().Struct(s))
}

// ValidateVar validates a single value against a rule expression, e.g.
// "required,invoiceyear".
func ValidateVar(value interface{}, tag string) error {
	return translate(getValidator().Var(value, tag))
}

// RegisterValidation exposes underlying validator custom rules.
func RegisterValidation(tag string, fn validator.Func) error {
	return getValidator().RegisterValidation(tag, fn)
}

func translate(err error) error {
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		failures := make(ValidationErrors, len(ve))
		for i, fe := range ve {
			failures[i] = ValidationError{
				Field: fe.Field(),
				Tag:   fe.Tag(),
				Param: fe.Param(),
			}
		}
		return failures
	}

	return err
}

func getValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
		registerDomainRules(validate)
	})
	return validate
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}

	name := strings.SplitN(tag, ",", 2)[0]
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// registerDomainRules installs the validations handlers share.
func registerDomainRules(v *validator.Validate) {
	// invoiceyear: the four digit year stamped into generated artifact names.
	_ = v.RegisterValidation("invoiceyear", func(fl validator.FieldLevel) bool {
		year := fl.Field().String()
		if len(year) != 4 {
			return false
		}
		for _, r := range year {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})
}
