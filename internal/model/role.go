package model

import (
	"fmt"
	"time"
)

// Action is the closed set of role-permission mutations. Using a typed
// enum instead of raw strings makes an unhandled action a compile-time
// concern rather than a silent fallthrough.
type Action int

const (
	// ActionSet replaces the role's entire permission set.
	ActionSet Action = iota
	// ActionAdd unions the given codenames into the existing set.
	ActionAdd
	// ActionRemove subtracts the given codenames from the existing set.
	ActionRemove
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionSet:
		return "set"
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps a wire name to an Action. An empty string defaults
// to "set", matching the admin API's historical behavior.
func ParseAction(s string) (Action, error) {
	switch s {
	case "set", "":
		return ActionSet, nil
	case "add":
		return ActionAdd, nil
	case "remove":
		return ActionRemove, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Permission is immutable reference data identifying one grantable right.
type Permission struct {
	ID       int64  `json:"id"`
	Codename string `json:"codename"` // short unique key, e.g. "view_stock"
	Name     string `json:"name"`     // human-readable label
	Category string `json:"category"` // grouping key, e.g. "stocks", "users"
}

// Role is a named set of permissions assignable to users.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsActive    bool         `json:"is_active"`
	Permissions []Permission `json:"permissions"`
}

// Codenames returns the role's permission codenames in stored order.
func (r *Role) Codenames() []string {
	out := make([]string, len(r.Permissions))
	for i, p := range r.Permissions {
		out[i] = p.Codename
	}
	return out
}

// UserRole associates a user with a role, with assignment metadata.
// Unique per (user, role).
type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy int64     `json:"assigned_by,omitempty"`
}

// UserRef identifies a user affected by a role mutation.
type UserRef struct {
	ID       int64  `json:"user_id"`
	Username string `json:"username"`
}
