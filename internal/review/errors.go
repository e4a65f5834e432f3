package review

import "errors"

// Caller-facing error kinds. Messages stay generic: authorization failures
// never reveal which permission was missing, and closed or foreign records
// are reported as absent rather than forbidden.
var (
	ErrAuthenticationRequired = errors.New("authentication is required")
	ErrForbidden              = errors.New("insufficient privileges")
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
)
