package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/support-inbox/pkg/util/errorutil"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates v against its `validate` tags and reports failures as an
// InvalidArgument DomainError keyed by field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errorutil.NewInvalidArgument(err.Error(), nil)
	}
	details := make(map[string]any, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldName(fe)
		fields = append(fields, field)
		if fe.Param() != "" {
			details[field] = fmt.Sprintf("failed '%s' rule (%s)", fe.Tag(), fe.Param())
		} else {
			details[field] = fmt.Sprintf("failed '%s' rule", fe.Tag())
		}
	}
	return errorutil.NewInvalidArgument("invalid "+strings.Join(fields, ", "), details)
}

// Var validates a single value against tag.
func Var(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return errorutil.NewInvalidArgument(fmt.Sprintf("value %v fails rule %q", value, tag), nil)
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		name = fe.StructField()
	}
	return strings.ToLower(name[:1]) + name[1:]
}
