package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors to the brainpro error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Code(err error) string
}

// DefaultErrorMapper implements the brainpro error taxonomy mapping
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps transport errors to taxonomy categories. Errors that already
// carry a category are returned unchanged.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	if m.Code(err) != "internal" || errors.Is(err, ErrInternal) {
		return err
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("resource not found: %w", ErrNotFound)

	case strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"):
		return fmt.Errorf("access denied: %w", ErrPermissionDenied)

	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("rate limited: %w", ErrTransient)

	case strings.Contains(errStr, "invalid input"), strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"):
		return fmt.Errorf("invalid request: %w", ErrInvalidInput)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("request timeout: %w", ErrTransient)

	case strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("network error: %w", ErrTransient)

	case strings.Contains(errStr, "conflict"), strings.Contains(errStr, "already exists"):
		return fmt.Errorf("conflict: %w", ErrConflict)

	default:
		return fmt.Errorf("internal error: %w", ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry by the caller
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Code returns the wire error code used in gateway error events
func (m *DefaultErrorMapper) Code(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrConfig):
		return "no_target"
	case errors.Is(err, ErrBackend):
		return "agent_error"
	case errors.Is(err, ErrTurnNotFound):
		return "turn_not_found"
	case errors.Is(err, ErrInvalidQuestion):
		return "invalid_question"
	case errors.Is(err, ErrApprovalRequired):
		return "approval_required"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "internal"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a taxonomy category while keeping the
// original error in the chain.
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// Config wraps error as config error
func Config(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConfig)
}

// Backend wraps a transport failure as backend error
func Backend(err error, message string) error {
	return WrapWithCategory(err, message, ErrBackend)
}

// TurnNotFound reports a missing or expired turn
func TurnNotFound(turnID string) error {
	return fmt.Errorf("Turn %s not found or expired: %w", turnID, ErrTurnNotFound)
}

// InvalidQuestion wraps error as invalid question
func InvalidQuestion(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidQuestion)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// PermissionDenied wraps error as permission denied
func PermissionDenied(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermissionDenied)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsRetryable checks if an error is transient or conflict related, indicating it can be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
