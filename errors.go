package account

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	TextCodeNotFound            = "ACCOUNT_NOT_FOUND"
	TextCodeInvalidCreds        = "INVALID_CREDENTIALS"
	TextCodePendingRegistration = "REGISTRATION_PENDING"
	TextCodeBlocked             = "ACCOUNT_BLOCKED"
	TextCodeTokenInvalid        = "TOKEN_EXPIRED_OR_INVALID"
	TextCodeUnauthorized        = "UNAUTHORIZED"
	TextCodeConflict            = "CONFLICT"
	TextCodeValidation          = "VALIDATION_FAILED"
	TextCodeInternal            = "INTERNAL"
)

// ErrNotFound is returned when no account matches a lookup
var ErrNotFound = errors.New("account not found")

// ErrInvalidCredentials is the generic credential failure
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrPendingRegistration the account has not verified its email yet
var ErrPendingRegistration = errors.New("registration is pending")

// ErrBlocked the account was blocked by an administrator
var ErrBlocked = errors.New("account is blocked")

// ErrTokenExpiredOrInvalid no pending action matches the presented token
var ErrTokenExpiredOrInvalid = errors.New("invalid token, request expired")

// ErrUnauthorized the caller is not authenticated
var ErrUnauthorized = errors.New("not authorized")

// ErrConflict is returned by persistence on unique key violations
var ErrConflict = errors.New("record already exists")

// ErrInternal wraps collaborator failures below the core
var ErrInternal = errors.New("internal error")

// ErrNoEmptyString password must not be empty
var ErrNoEmptyString = errors.New("password can not be empty")

// ErrMismatchedHashAndPassword password does not match the stored hash
var ErrMismatchedHashAndPassword = errors.New("the credentials provided are invalid")

// ValidationError holds field scoped messages for every failing field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(fields map[string]string) *ValidationError {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return &ValidationError{Fields: out}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation errors"
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation errors: " + strings.Join(parts, "; ")
}

// Add records a message for field, keeping the first one reported.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns nil when no field failed so callers can return it directly.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// IsValidationError reports whether err carries field errors.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// FieldErrors extracts the field map from err, or nil.
func FieldErrors(err error) map[string]string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}

// maskedError renders as public while still matching cause with errors.Is.
// Login uses it so an unknown email reads exactly like a wrong password.
type maskedError struct {
	public error
	cause  error
}

func (e maskedError) Error() string { return e.public.Error() }

func (e maskedError) Unwrap() []error { return []error{e.public, e.cause} }

func internalError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, msg, err)
}

// TextCode maps err to a stable machine readable code.
func TextCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidationError(err):
		return TextCodeValidation
	case errors.Is(err, ErrPendingRegistration):
		return TextCodePendingRegistration
	case errors.Is(err, ErrBlocked):
		return TextCodeBlocked
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrMismatchedHashAndPassword):
		return TextCodeInvalidCreds
	case errors.Is(err, ErrTokenExpiredOrInvalid):
		return TextCodeTokenInvalid
	case errors.Is(err, ErrUnauthorized):
		return TextCodeUnauthorized
	case errors.Is(err, ErrNotFound):
		return TextCodeNotFound
	case errors.Is(err, ErrConflict):
		return TextCodeConflict
	default:
		return TextCodeInternal
	}
}
