package model

import "errors"

// Sentinel errors shared by the storage implementations.
var (
	// ErrStockNotFound is returned when a symbol has no stock record.
	ErrStockNotFound = errors.New("stock not found")

	// ErrRoleNotFound is returned when a role id has no role record.
	ErrRoleNotFound = errors.New("role not found")

	// ErrUserRoleNotFound is returned when a (user, role) association
	// does not exist.
	ErrUserRoleNotFound = errors.New("user role not found")

	// ErrUnknownAction is returned for an unrecognized mutation action
	// name.
	ErrUnknownAction = errors.New("unknown permission action")
)
