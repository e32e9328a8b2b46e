package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// E.164 phone numbers, e.g. +14155550123
	_ = validate.RegisterValidation("e164", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})

	// Checkout modes understood by the provider
	_ = validate.RegisterValidation("checkout_mode", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "", "payment", "subscription":
			return true
		}
		return false
	})

	// Provider checkout session ids
	_ = validate.RegisterValidation("session_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return strings.HasPrefix(id, "cs_") && len(id) <= 255
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		field := fe.Field()
		switch fe.Tag() {
		case "required", "required_without", "required_if":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + fe.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + fe.Param()
		case "lte":
			errors[field] = "Value must be at most " + fe.Param()
		case "len":
			errors[field] = "Value must have length " + fe.Param()
		case "numeric":
			errors[field] = "Value must contain digits only"
		case "e164":
			errors[field] = "Invalid phone number. Use international format, e.g. +14155550123"
		case "checkout_mode":
			errors[field] = "Invalid mode. Must be: payment or subscription"
		case "session_id":
			errors[field] = "Invalid checkout session id"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}
