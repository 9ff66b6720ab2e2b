package validator

import (
	"reflect"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var actorNameValidRegex = regexp.MustCompile(`^[a-zA-Z0-9 +\-_.@]+$`)

func initiatorTypeValidator(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch fl.Field().String() {
	case "":
		// defaulted to human by the service
		return true
	case "human":
		fallthrough
	case "automation-agent":
		fallthrough
	case "ai-agent":
		return true
	default:
		return false
	}
}

func actorNameValidator(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return actorNameValidRegex.MatchString(fl.Field().String())
}
