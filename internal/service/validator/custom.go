package validator

import (
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/PaolaCartala/compliance-local-ai/internal/store/model"
	"github.com/go-playground/validator/v10"
)

var (
	tokenRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._:-]*[a-zA-Z0-9])?$`)
	// attachment references are storage keys, never URLs or parent paths
	attachmentRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)
	contextRoles    = []string{model.ContextRoleUser, model.ContextRoleAssistant, model.ContextRoleSystem}
)

func stringValue(fl validator.FieldLevel) (string, bool) {
	field := fl.Field()
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return "", false
		}
		field = field.Elem()
	}
	if field.Kind() != reflect.String {
		return "", false
	}
	return field.String(), true
}

func requestTypeValidator(fl validator.FieldLevel) bool {
	val, ok := stringValue(fl)
	if !ok {
		return false
	}
	return slices.Contains(model.RequestTypes, model.RequestType(val))
}

func specializationValidator(fl validator.FieldLevel) bool {
	val, ok := stringValue(fl)
	if !ok {
		return false
	}
	return slices.Contains(model.Specializations, model.Specialization(val))
}

func tokenValidator(fl validator.FieldLevel) bool {
	val, ok := stringValue(fl)
	if !ok {
		return false
	}
	return tokenRegex.MatchString(val)
}

func attachmentRefValidator(fl validator.FieldLevel) bool {
	val, ok := stringValue(fl)
	if !ok {
		return false
	}
	if strings.Contains(val, "..") {
		return false
	}
	return attachmentRegex.MatchString(val)
}

func contextRoleValidator(fl validator.FieldLevel) bool {
	val, ok := stringValue(fl)
	if !ok {
		return false
	}
	return slices.Contains(contextRoles, val)
}
