package app

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeContainerAccess = "CONTAINER_ACCESS"
	ErrCodeContainerLocked = "CONTAINER_LOCKED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeNoSpace         = "NO_SPACE"
	ErrCodeCorrupt         = "CORRUPT"
	ErrCodeInconsistent    = "INCONSISTENT"
	ErrCodeUnsupported     = "UNSUPPORTED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

var codes = []struct {
	err  error
	code string
}{
	{types.ErrInvalidGeometry, ErrCodeInvalidInput},
	{types.ErrNoSpace, ErrCodeNoSpace},
	{types.ErrCorruptEncoding, ErrCodeCorrupt},
	{types.ErrAccountingMismatch, ErrCodeInconsistent},
	{types.ErrUnsupportedLayout, ErrCodeUnsupported},
	{types.ErrNotFound, ErrCodeNotFound},
	{types.ErrDeviceIO, ErrCodeContainerAccess},
	{device.ErrLocked, ErrCodeContainerLocked},
	{context.DeadlineExceeded, ErrCodeTimeout},
	{context.Canceled, ErrCodeCancelled},
}

// FromError wraps err in a CommonError whose code follows the first
// matching error kind. A CommonError is returned unchanged.
func FromError(message string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		return err
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return NewError(c.code, message, err)
		}
	}
	return NewError(ErrCodeInternal, message, err)
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	var ce *CommonError
	if err == nil {
		return 0
	}
	if !errors.As(err, &ce) {
		return 1
	}
	switch ce.Code {
	case ErrCodeInvalidInput:
		return 2
	case ErrCodeCorrupt, ErrCodeInconsistent:
		return 3
	case ErrCodeUnsupported, ErrCodeNoSpace:
		return 4
	}
	return 1
}
