// Package sharederr provides a lightweight, low-level error-wrapping idiom
// for "an external operation failed" errors: pkg/orchestrator/stores uses
// it to name the failing component and tenant on every Postgres query
// before that error reaches a component boundary and gets classified into
// an internal/apperrors.AppError.
package sharederr

import "fmt"

// OperationError describes a failed operation against a named component
// and (optionally) a specific resource.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	msg := "failed to " + e.Operation
	if e.Component != "" {
		msg += ", component: " + e.Component
	}
	if e.Resource != "" {
		msg += ", resource: " + e.Resource
	}
	if e.Cause != nil {
		msg += ", cause: " + e.Cause.Error()
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// failedTo is a plain error carrying just "failed to <action>[: <cause>]",
// distinct from OperationError's longer component/resource form.
type failedTo struct {
	action string
	cause  error
}

func (e *failedTo) Error() string {
	if e.cause == nil {
		return "failed to " + e.action
	}
	return "failed to " + e.action + ": " + e.cause.Error()
}

func (e *failedTo) Unwrap() error { return e.cause }

// FailedTo builds the common case: a plain "failed to <action>" error,
// optionally wrapping cause.
func FailedTo(action string, cause error) error {
	return &failedTo{action: action, cause: cause}
}

// FailedToWithDetails builds an OperationError naming the failing
// component and resource alongside the action and cause.
func FailedToWithDetails(action, component, resource string, cause error) *OperationError {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf is a convenience matching go-faster/errors' idiom for ad-hoc
// formatted wraps where OperationError's fixed shape doesn't fit.
func Wrapf(cause error, format string, args ...any) error {
	if cause == nil {
		return fmt.Errorf(format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, cause)...)
}
