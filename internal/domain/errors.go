package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyValidation   = errors.New("policy validation failed")
	ErrPaymentAlreadyPaid = errors.New("payment already paid")
	ErrInvalidAmount      = errors.New("payment amount must be positive")
	ErrStatusConflict     = errors.New("payment status changed concurrently")
	ErrPaymentUnpaid      = errors.New("payment has not been paid")
)

// ValidationError describes a rejected policy field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is lets errors.Is match ErrPolicyValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrPolicyValidation
}
