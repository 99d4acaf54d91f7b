package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator reports fields by their json name so messages match the request body.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

func FormatValidationError(err error) map[string]string {
	result := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		result["body"] = "invalid request"
		return result
	}

	for _, err := range validationErrors {
		field := fieldPath(err.Namespace())

		switch err.Tag() {
		case "required":
			result[field] = fmt.Sprintf("%s is required", field)
		case "min":
			result[field] = fmt.Sprintf("%s must be at least %s characters", field, err.Param())
		case "max":
			result[field] = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "gt":
			result[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte":
			result[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "lte":
			result[field] = fmt.Sprintf("%s must be less than or equal to %s", field, err.Param())
		case "latitude":
			result[field] = fmt.Sprintf("%s must be a valid latitude", field)
		case "longitude":
			result[field] = fmt.Sprintf("%s must be a valid longitude", field)
		default:
			result[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return result
}

// fieldPath drops the root struct name: "CheckoutInput.deliveryCoordinates.latitude" -> "deliveryCoordinates.latitude".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
