// Package shared holds cross-cutting helpers for the settlement services:
// the error taxonomy, per-customer settlement locks and idempotency keys.
package shared

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a referenced aggregate does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports an invalid command field, detected before any
// aggregate mutation.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RuleError reports a business-rule violation. The message carries the
// concrete amounts involved so the caller can self-correct.
type RuleError struct {
	msg string
}

func (e *RuleError) Error() string { return e.msg }

// Rulef builds a RuleError.
func Rulef(format string, args ...any) error {
	return &RuleError{msg: fmt.Sprintf(format, args...)}
}

// IsRule reports whether err is a RuleError.
func IsRule(err error) bool {
	var r *RuleError
	return errors.As(err, &r)
}
