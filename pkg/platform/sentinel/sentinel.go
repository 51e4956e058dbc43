package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Session stores, proposal registries
// and other adapters return these (optionally wrapped) so actors can translate
// them into domain errors and *_ERROR signals.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: key or record does not exist in the store
// - ErrConflict: record already exists
// - ErrUnavailable: backing service temporarily unavailable
// - ErrTooLarge: payload exceeds the adapter limit
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrTooLarge    = errors.New("too large")
)
