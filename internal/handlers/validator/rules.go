package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewJobValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("initiator_type", initiatorTypeValidator),
		},
	}
}

func NewOverrideValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("actor_name", actorNameValidator),
		},
	}
}
