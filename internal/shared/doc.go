// Package shared contains common error types and utilities for error handling
// across the application without domain-specific logic.
//
// # Error Types and Classification
//
// The sentinel errors describe the failure classes of a database layer:
//
//   - ErrNotFound: a table or other object does not exist
//   - ErrValidation: invalid configuration or arguments
//   - ErrMisuse: a programming error, such as using a closed handle
//   - ErrIntegrity: the data on disk is not what it should be
//   - ErrBusy: lock contention that may go away on retry
//   - ErrInternal: unexpected engine failure
//
// Use KindOf to classify an error, typically at an outer boundary:
//
//	switch shared.KindOf(err) {
//	case shared.KindNotFound:
//	    return http.StatusNotFound
//	case shared.KindBusy:
//	    return http.StatusServiceUnavailable
//	}
//
// # Adding Kinds to Foreign Errors
//
// MarkKind attaches a kind to an error coming from a library while keeping
// the original chain reachable with errors.Is and errors.As. ParseKind and
// SentinelOf let a client restore the kind from its String form.
package shared
