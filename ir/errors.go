package ir

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error Types
// ---------------------------------------------------------------------------

var (
	// ErrUsage marks programmer errors made by a transformation unit: undeclared
	// variables, break outside a loop, arity mismatches and the like.
	ErrUsage = errors.New("invalid usage")

	// ErrUnreadable marks files that are not loom module images.
	ErrUnreadable = errors.New("not a loom module")

	ErrInvalidMagic     = errors.New("invalid magic number: expected LOOM")
	ErrVersionMismatch  = errors.New("image version mismatch")
	ErrCorruptData      = errors.New("corrupt image data")
	ErrUnboundReference = errors.New("reference not imported into module")
	ErrTypeNotFound     = errors.New("type not found")
	ErrMemberNotFound   = errors.New("member not found")
)

// Usagef returns an error wrapping ErrUsage.
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// unreadable wraps a decoding failure so that callers can test for ErrUnreadable
// while still seeing the specific cause.
func unreadable(cause error) error {
	return fmt.Errorf("%w: %w", ErrUnreadable, cause)
}
