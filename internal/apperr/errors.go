// Package apperr defines sentinel errors shared across Othala components.
package apperr

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrDuplicate = errors.New("duplicate identifier")
)
