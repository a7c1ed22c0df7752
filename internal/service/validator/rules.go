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
			Rule: registerFn("request_type", requestTypeValidator),
		},
		{
			Rule: registerFn("specialization", specializationValidator),
		},
		{
			Rule: registerFn("token", tokenValidator),
		},
		{
			Rule: registerFn("attachment_ref", attachmentRefValidator),
		},
		{
			Rule: registerFn("context_role", contextRoleValidator),
		},
	}
}
