// This file contains the error taxonomy of the rating contract. Every
// failure of a command carries a machine-checkable code next to its human
// readable reason, so that callers can react to the kind of refusal without
// parsing messages.

package rating

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Code tells the kind of failure of a contract command.
type Code int

const (
	// CodeInternal is the fallback for errors that carry no specific code,
	// typically a storage or capability failure.
	CodeInternal Code = iota

	// CodeValidation tells a malformed request shape: mismatched array
	// lengths, out-of-range dimension count or index, non-positive time
	// range.
	CodeValidation

	// CodeNotFound tells a reference to an activity, rating or comment that
	// does not exist.
	CodeNotFound

	// CodeConflict tells a duplicate submission for a pair that already has
	// a rating or comment recorded.
	CodeConflict

	// CodeWindow tells a mutation attempted outside the activity window.
	CodeWindow

	// CodeUnauthorized tells a caller that is not the organizer for an
	// organizer-only command.
	CodeUnauthorized

	// CodeProof tells a ciphertext whose validity proof failed to verify.
	CodeProof
)

// String returns the name of the code.
func (c Code) String() string {
	switch c {
	case CodeValidation:
		return "validation"
	case CodeNotFound:
		return "not found"
	case CodeConflict:
		return "conflict"
	case CodeWindow:
		return "window"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeProof:
		return "proof"
	default:
		return "internal"
	}
}

// ContractError is an error of a contract command tagged with its code. The
// code survives wrapping as long as the wrappers use the %w verb.
type ContractError struct {
	code Code
	err  error
}

func newError(code Code, format string, args ...interface{}) ContractError {
	return ContractError{
		code: code,
		err:  fmt.Errorf(format, args...),
	}
}

// Error implements error.
func (e ContractError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e ContractError) Unwrap() error {
	return e.err
}

// Code returns the kind of the failure.
func (e ContractError) Code() Code {
	return e.code
}

// CodeOf extracts the code of an error, or CodeInternal when the error
// carries none.
func CodeOf(err error) Code {
	var ce ContractError
	if xerrors.As(err, &ce) {
		return ce.code
	}

	return CodeInternal
}
