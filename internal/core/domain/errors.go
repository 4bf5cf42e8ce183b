package domain

import "errors"

// Error taxonomy shared by the engines and the transport adapters. Adapters wrap
// driver errors with one of these so handlers can map them with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrInternal        = errors.New("internal error")
)
