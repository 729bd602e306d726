// Package shared contains the error taxonomy used across litedb.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer. Concrete errors wrap one of them
// so that callers can classify failures with errors.Is or KindOf.
var (
	// ErrNotFound indicates that a requested object (table, file) does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates an invalid configuration or request
	ErrValidation = errors.New("invalid configuration")

	// ErrMisuse indicates a programming error: use after close, bad scope state
	ErrMisuse = errors.New("misuse")

	// ErrIntegrity indicates that persisted state is not what the handle expects
	ErrIntegrity = errors.New("data integrity violated")

	// ErrBusy indicates that the engine gave up waiting for a storage lock
	ErrBusy = errors.New("database busy")

	// ErrInternal indicates an unexpected failure
	ErrInternal = errors.New("internal error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindNotFound represents missing objects
	KindNotFound
	// KindValidation represents configuration errors
	KindValidation
	// KindMisuse represents programming errors
	KindMisuse
	// KindIntegrity represents data integrity errors
	KindIntegrity
	// KindBusy represents retryable lock contention
	KindBusy
	// KindInternal represents unexpected failures
	KindInternal
	// KindCanceled represents context cancellation or deadline expiry
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindMisuse:
		return "Misuse"
	case KindIntegrity:
		return "Integrity"
	case KindBusy:
		return "Busy"
	case KindInternal:
		return "Internal"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// ParseKind returns the Kind whose String is s, or KindUnknown.
func ParseKind(s string) Kind {
	for k := KindUnknown; k <= KindCanceled; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// kindPriorities defines the deterministic order for error classification.
// Higher priority (lower index) kinds are checked first in KindOf.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindBusy, ErrBusy},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindMisuse, ErrMisuse},
	{KindIntegrity, ErrIntegrity},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain using a deterministic priority order:
// cancellation first, then busy, then the remaining kinds.
// Returns KindUnknown for unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindValidation:
//	    return http.StatusBadRequest
//	case shared.KindBusy:
//	    return http.StatusServiceUnavailable
//	default:
//	    return http.StatusInternalServerError
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, p := range kindPriorities {
		if p.kind == KindCanceled {
			if IsCanceled(err) {
				return KindCanceled
			}
			continue
		}
		if errors.Is(err, p.err) {
			return p.kind
		}
	}
	return KindUnknown
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func SentinelOf(kind Kind) error {
	for _, p := range kindPriorities {
		if p.kind == kind {
			return p.err
		}
	}
	return nil
}

// MarkKind wraps an error with the sentinel of the given kind, preserving the
// original error. Both KindOf(MarkKind(err, k)) == k and errors.Is(MarkKind(err, k), err)
// hold. Marking an error with a kind it already has returns it unchanged.
//
// Example usage for adapting engine errors:
//
//	if sqlite.IsBusy(err) {
//	    return shared.MarkKind(err, shared.KindBusy)
//	}
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether the error indicates a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether the error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether the error indicates a configuration error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsMisuse reports whether the error indicates a programming error.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrMisuse)
}

// IsIntegrity reports whether the error indicates a data integrity violation.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// IsBusy reports whether the error was marked as retryable contention.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
