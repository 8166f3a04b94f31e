/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperrors implements the closed error-kind taxonomy of spec.md
// §7 as a single AppError type, so every boundary in this repository can
// answer "what kind of failure is this, and is it fatal to the current
// investigation" with one type switch.
package apperrors

import (
	"fmt"
	"net/http"
)

// ErrorType is the closed taxonomy of spec.md §7.
type ErrorType string

const (
	ErrorTypeTransientProvider ErrorType = "transient_provider"
	ErrorTypePermanentProvider ErrorType = "permanent_provider"
	ErrorTypeSpendExceeded     ErrorType = "spend_exceeded"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeInjection         ErrorType = "injection"
	ErrorTypeGovernance        ErrorType = "governance"
	ErrorTypeSLABreach         ErrorType = "sla_breach"
	ErrorTypeUnrecoverable     ErrorType = "unrecoverable"
)

// statusCodes maps each error kind to the HTTP status code the governance
// and gateway HTTP surfaces should return for it.
var statusCodes = map[ErrorType]int{
	ErrorTypeTransientProvider: http.StatusServiceUnavailable,
	ErrorTypePermanentProvider: http.StatusBadGateway,
	ErrorTypeSpendExceeded:     http.StatusPaymentRequired,
	ErrorTypeValidation:        http.StatusBadRequest,
	ErrorTypeInjection:         http.StatusUnprocessableEntity,
	ErrorTypeGovernance:        http.StatusConflict,
	ErrorTypeSLABreach:         http.StatusGatewayTimeout,
	ErrorTypeUnrecoverable:     http.StatusInternalServerError,
}

// AppError is the structured error type used at every component boundary.
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Details    string
	Cause      error
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg += fmt.Sprintf(" (%s)", e.Details)
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails attaches a human-readable detail string and returns the same
// error (modified in place), matching the teacher's "modify in place"
// builder idiom.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches a formatted detail string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// New creates an AppError of the given type with its mapped status code.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t]}
}

// Wrap creates an AppError of the given type wrapping cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodes[t], Cause: cause}
}

// Wrapf creates an AppError with a formatted message, wrapping cause.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t ErrorType) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Type == t
}

// GetType returns err's ErrorType, or ErrorTypeUnrecoverable for any error
// that is not an *AppError.
func GetType(err error) ErrorType {
	if ae, ok := err.(*AppError); ok {
		return ae.Type
	}
	return ErrorTypeUnrecoverable
}

// GetStatusCode returns the HTTP status code for err.
func GetStatusCode(err error) int {
	if ae, ok := err.(*AppError); ok {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// Fatal reports whether an error kind is fatal to the investigation
// currently in flight (spec.md §7 propagation policy): SpendExceeded and
// Unrecoverable always are; the rest have a locally-recoverable "empty
// result" semantics somewhere in the pipeline.
func Fatal(err error) bool {
	switch GetType(err) {
	case ErrorTypeSpendExceeded, ErrorTypeUnrecoverable:
		return true
	default:
		return false
	}
}

// Retryable reports whether an error kind should be retried by the
// Gateway's provider call per spec.md §4.2 step 5.
func Retryable(err error) bool {
	return GetType(err) == ErrorTypeTransientProvider
}

// safeMessages holds the messages that are safe to return to a caller for
// error kinds whose underlying Message may contain internal detail.
var safeMessages = map[ErrorType]string{
	ErrorTypePermanentProvider: "the upstream provider rejected this request",
	ErrorTypeSLABreach:         "this operation exceeded its service-level deadline",
	ErrorTypeUnrecoverable:     "an internal error occurred",
}

// SafeErrorMessage returns a message safe to surface to an external caller:
// validation/governance/injection errors are passed through verbatim (they are
// already caller-actionable), everything else is mapped to a generic
// message so internal detail never leaks across a trust boundary.
func SafeErrorMessage(err error) string {
	ae, ok := err.(*AppError)
	if !ok {
		return "an unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation, ErrorTypeGovernance, ErrorTypeInjection:
		return ae.Message
	default:
		if msg, ok := safeMessages[ae.Type]; ok {
			return msg
		}
		return "an internal error occurred"
	}
}
