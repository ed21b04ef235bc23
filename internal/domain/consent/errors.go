package consent

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoChange lo devuelve una MutateFunc para abortar sin escribir.
	// El repo hace rollback y lo propaga tal cual.
	ErrNoChange = errors.New("no change")
)

// ValidationError describe qué campo del input es inválido.
// errors.Is(err, ErrValidation) es true para cualquier *ValidationError.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
