// Package apperr defines sentinel errors shared across Weft components.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	// ErrTerminalStatus is returned when a transition is requested out of the
	// terminal "deleted" status.
	ErrTerminalStatus = errors.New("binding status is terminal")
)
