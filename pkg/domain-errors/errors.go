// Package domainerrors defines the stable error codes returned by services.
//
// Every failure that crosses a service boundary carries exactly one Code so
// transports can map it without string matching. Infrastructure layers return
// sentinel errors (pkg/platform/sentinel) which services translate into codes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, enumerable failure kind.
type Code string

// Will lifecycle codes. These are part of the public contract and never change.
const (
	CodeNotOwner            Code = "not_owner"
	CodeWillInactive        Code = "will_inactive"
	CodeInvalidShare        Code = "invalid_share"
	CodeNotVerified         Code = "not_verified"
	CodeNotAdmin            Code = "not_admin"
	CodeAlreadyVerified     Code = "already_verified"
	CodeAssetNotFound       Code = "asset_not_found"
	CodeUnauthorized        Code = "unauthorized"
	CodeBeneficiaryNotFound Code = "beneficiary_not_found"
	CodeInsufficientBalance Code = "insufficient_balance"
)

// Platform codes shared by every module.
const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeForbidden          Code = "forbidden"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error. Err is optional and preserved for errors.Is
// and errors.As but never rendered to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in err's chain.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// HasCode reports whether the outermost coded error in err's chain has code.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}
