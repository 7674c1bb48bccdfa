package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage
// implementations (SQLite, Postgres). Each implementation satisfies one
// or more of these interfaces.

// PriceHistoryStore reads a stock's full price history and writes back
// computed indicator fields per bar.
type PriceHistoryStore interface {
	// ListSymbols returns all known stock symbols.
	ListSymbols(ctx context.Context) ([]string, error)

	// PriceHistory returns the stock's bars ordered by date ascending.
	// Returns ErrStockNotFound if the symbol is unknown; an empty slice
	// if the stock exists but has no bars.
	PriceHistory(ctx context.Context, symbol string) ([]PriceBar, error)

	// SaveIndicators persists the computed indicator fields for one bar.
	SaveIndicators(ctx context.Context, barID int64, ind IndicatorSet) error

	// Close releases underlying resources.
	Close() error
}

// RoleStore provides CRUD over roles, permissions, and user-role
// assignments, with a single transactional boundary per permission
// mutation: readers never observe a half-applied change.
type RoleStore interface {
	// Role returns the role with its permissions loaded.
	// Returns ErrRoleNotFound if absent.
	Role(ctx context.Context, roleID int64) (Role, error)

	// ApplyPermissionChange atomically applies a set/add/remove mutation
	// to the role's permission set. Unknown codenames are silently
	// ignored. Returns the updated role.
	ApplyPermissionChange(ctx context.Context, roleID int64, action Action, codenames []string) (Role, error)

	// UsersWithRole returns every user currently holding the role.
	UsersWithRole(ctx context.Context, roleID int64) ([]UserRef, error)

	// UserRoles returns the user's roles with permissions loaded.
	UserRoles(ctx context.Context, userID int64) ([]Role, error)

	// AssignRole creates a (user, role) association. Returns false if
	// the user already held the role.
	AssignRole(ctx context.Context, userID, roleID, assignedBy int64) (bool, error)

	// RemoveRole deletes a (user, role) association.
	RemoveRole(ctx context.Context, userID, roleID int64) error

	// ListPermissions returns all reference permissions.
	ListPermissions(ctx context.Context) ([]Permission, error)

	// Close releases underlying resources.
	Close() error
}
