package service

import (
	"errors"
	"fmt"
	"strings"

	"device-control-relay/internal/command"
	"device-control-relay/internal/domain"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a request struct and reports field failures as
// domain.ErrInvalidPayload.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, strings.Join(fields, ", "))
}

// Outcome describes what an accepted operation did. Degraded is set when a
// persistence leg that does not gate the live action failed.
type Outcome struct {
	Request  *domain.PermissionRequest
	Delivery *command.Result
	Results  []command.Result
	Degraded bool
}
