package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

// msisdnRe matches E.164-ish mobile numbers without the leading plus,
// e.g. 254712345678.
var msisdnRe = regexp.MustCompile(`^[1-9][0-9]{8,14}$`)

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
	// Mobile number validation (digits only, country code included)
	validate.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return msisdnRe.MatchString(fl.Field().String())
	})

	// Fiat currency validation
	validate.RegisterValidation("fiat_currency", func(fl validator.FieldLevel) bool {
		currency := fl.Field().String()
		validCurrencies := []string{"KES", "NGN", "ZAR", "UGX", "TZS"}
		for _, c := range validCurrencies {
			if currency == c {
				return true
			}
		}
		return false
	})

	// Transaction kind validation
	validate.RegisterValidation("tx_kind", func(fl validator.FieldLevel) bool {
		kind := fl.Field().String()
		validKinds := []string{"buy", "payout", "airtime"}
		for _, k := range validKinds {
			if kind == k {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "msisdn":
			errors[field] = "Invalid mobile number. Use international format without +, e.g. 254712345678"
		case "fiat_currency":
			errors[field] = "Unsupported currency. Must be: KES, NGN, ZAR, UGX, or TZS"
		case "tx_kind":
			errors[field] = "Invalid transaction kind. Must be: buy, payout, or airtime"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
