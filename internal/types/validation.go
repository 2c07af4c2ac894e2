package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// pushTokenPattern is the Expo device token grammar.
var pushTokenPattern = regexp.MustCompile(`^(ExponentPushToken|ExpoPushToken)\[[A-Za-z0-9_-]+\]$`)

// ValidPushToken reports whether token matches the push transport's grammar.
func ValidPushToken(token string) bool {
	return pushTokenPattern.MatchString(token)
}

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		if err := validate.RegisterValidation("expo_token", func(fl validator.FieldLevel) bool {
			return ValidPushToken(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("registering expo_token validation: %v", err))
		}
	})
	return validate
}

var (
	_ Validator = (*PlannedTrip)(nil)
	_ Validator = (*PushToken)(nil)
)

// Validate checks the trip invariants: unique id present, non-empty route
// with plausible coordinates, a loadable timezone, and a set departure.
func (t *PlannedTrip) Validate() error {
	if err := structValidator().Struct(t); err != nil {
		return validationError(ErrCodeValidationInvalidTrip, "invalid planned trip", err)
	}
	return nil
}

// Validate checks that the token row is addressable and that the token
// follows the transport grammar, so a malformed token never becomes a
// user's latest token.
func (p *PushToken) Validate() error {
	if err := structValidator().Struct(p); err != nil {
		return validationError(ErrCodeValidationInvalidToken, "invalid push token", err)
	}
	return nil
}

// validationError flattens validator field errors into an AppError whose
// details name every failing field.
func validationError(code ErrorCode, msg string, err error) *AppError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return NewAppError(code, msg, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return NewAppErrorWithDetails(code,
		fmt.Sprintf("%s: %s", msg, strings.Join(fields, ", ")),
		err,
		map[string]any{"fields": fields},
	)
}
