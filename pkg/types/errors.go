package types

import "errors"

// Backend lifecycle errors.
var (
	ErrBackendClosed  = errors.New("backend is closed")
	ErrAlreadyOpen    = errors.New("backend is already open")
	ErrTableNotFound  = errors.New("table not found")
	ErrColumnNotFound = errors.New("column not found")
)

// Entity operation errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidID     = errors.New("invalid entity ID")
	ErrInvalidData   = errors.New("invalid entity data")
	ErrInvalidName   = errors.New("invalid name")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInvalidState  = errors.New("invalid sync state value")
	ErrTypeMismatch  = errors.New("type mismatch")
)
