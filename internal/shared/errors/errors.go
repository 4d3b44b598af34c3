package errors

import "errors"

var (
	// ErrRowExists is returned when an insert violates a uniqueness constraint.
	ErrRowExists = errors.New("row already exists")
	// ErrNotFound is returned by single-row getters when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrEmptyFilter guards UPDATE and DELETE statements without a WHERE clause.
	ErrEmptyFilter = errors.New("empty filter")
	// ErrFetchFailed wraps network and parse failures of an external feed.
	ErrFetchFailed = errors.New("feed fetch failed")
	// ErrResourceCreation wraps channel and category creation failures.
	ErrResourceCreation = errors.New("resource creation failed")
	// ErrUnsupported is returned by platforms that cannot perform an operation.
	ErrUnsupported   = errors.New("operation not supported by platform")
	ErrMissingToken  = errors.New("platform token is required")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidInput  = errors.New("invalid input")
)

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
