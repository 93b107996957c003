// Package govererr defines the error taxonomy shared by the governance engine.
package govererr

import (
	"errors"
	"fmt"
)

// ErrDataSourceUnavailable signals that a directory or registry collaborator
// is unreachable. Catalog operations return a partial result flagged degraded
// alongside this error rather than an empty one.
var ErrDataSourceUnavailable = errors.New("data source unavailable")

// ErrValidation signals a malformed request, rejected before any state mutation.
var ErrValidation = errors.New("validation error")

// ErrApprovalRequired signals a SENSITIVE tool activation without an approval
// record. The mutation is blocked with no partial effect.
var ErrApprovalRequired = errors.New("approval required")

// ErrIntegrityMismatch signals that a recomputed hash disagrees with the
// stored one. Surfaced, never auto-healed.
var ErrIntegrityMismatch = errors.New("integrity mismatch")

// ErrSLABreach signals that a revocation exceeded its propagation window.
var ErrSLABreach = errors.New("sla breach")

// ErrNotFound signals an unknown id on a lookup.
var ErrNotFound = errors.New("not found")

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with the kind and id of the missing record.
func NotFoundf(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}
