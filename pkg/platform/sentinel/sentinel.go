package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors or batch outcomes.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: a guarded write lost (expected state/version did not match)
//   - ErrImmutable: caller attempted to rewrite an append-only row
//   - ErrUnavailable: backing store could not be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrImmutable   = errors.New("immutable")
	ErrUnavailable = errors.New("unavailable")
)
