package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors without
// matching on driver-specific failures.
//
// These represent factual states about stored records, not validation
// failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: write would break the active-domain uniqueness invariant
// - ErrDuplicateID: insert collided with an existing certificate identifier
// - ErrInvalidState: record in wrong state for the operation (e.g.
//   deactivating an already inactive certificate)
// - ErrUnavailable: backing service temporarily unreachable
//
// For input validation use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrDuplicateID  = errors.New("duplicate identifier")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
