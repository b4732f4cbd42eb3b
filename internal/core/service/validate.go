package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rl1809/settlement/internal/core/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldError turns the first validator failure into a ValidationError.
func fieldError(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError(prefix, err.Error())
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	if prefix != "" {
		field = prefix + "." + field
	}
	switch fe.Tag() {
	case "required":
		return domain.NewValidationError(field, "is required")
	case "email":
		return domain.NewValidationError(field, "must be a valid email address")
	default:
		return domain.NewValidationError(field, fmt.Sprintf("failed %q validation", fe.Tag()))
	}
}

func validEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
