package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrConfig - no target or model resolvable (fatal, surfaced before any model call)
	ErrConfig = errors.New("config error")

	// ErrBackend - model transport failure (fatal for the current turn, never retried by the engine)
	ErrBackend = errors.New("backend error")

	// ErrTurnNotFound - resume of a turn id that is absent, expired or already consumed
	ErrTurnNotFound = errors.New("turn not found")

	// ErrInvalidQuestion - malformed clarifying-question payload (reported to the model as a tool result)
	ErrInvalidQuestion = errors.New("invalid question")

	// ErrApprovalRequired - action needs an external decision before it can run
	ErrApprovalRequired = errors.New("approval required")

	// ErrPermissionDenied - action denied by policy or by the user
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput - invalid input (tool arguments, requests, policy files)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (tools, skills, sessions)
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflicting concurrent update
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (rate limit, timeout, network)
	ErrTransient = errors.New("transient error")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
