package sentinel

import "errors"

// Sentinel errors for infrastructure facts. The record store and other
// infrastructure layers return these (optionally wrapped) so services can
// translate them into domain errors at the boundary.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: conditional update lost against a concurrent writer
// - ErrInvalidState: record in wrong state for the requested operation
// - ErrUnavailable: backing service temporarily unreachable
//
// For caller-input problems use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
