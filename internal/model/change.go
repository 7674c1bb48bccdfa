package model

// ChangeRecord is the ephemeral "permissions changed" flag written for
// every user holding a mutated role. TTL-bound (default 5 minutes) and
// consumed on first read by the polling endpoint.
type ChangeRecord struct {
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
	Action   string `json:"action"`
}

// Notification is the ephemeral human-readable message shown to a user
// after their permissions changed. TTL-bound (default 10 minutes),
// single delivery.
type Notification struct {
	Message string `json:"message"`
}

// ChangeDetail explains why a poll reported has_changes=true. Type is
// "flag" when an explicit ChangeRecord was consumed, "hash_change" when
// only the hash comparison detected drift.
type ChangeDetail struct {
	Type     string `json:"type"`
	RoleID   int64  `json:"role_id,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	Action   string `json:"action,omitempty"`
	OldHash  string `json:"old_hash,omitempty"`
	NewHash  string `json:"new_hash,omitempty"`
}

// PollResult is the response of the permission-change polling contract.
type PollResult struct {
	HasChanges      bool          `json:"has_changes"`
	PermissionsHash string        `json:"permissions_hash"`
	LastHash        string        `json:"last_hash,omitempty"`
	HadChangeFlag   bool          `json:"had_change_flag"`
	UserRoles       []string      `json:"user_roles"`
	PermissionCount int           `json:"permission_count"`
	Notification    *Notification `json:"notification,omitempty"`
	ChangeDetail    *ChangeDetail `json:"change_details,omitempty"`
}

// MutationResult is the per-role outcome of a (possibly batched)
// permission mutation.
type MutationResult struct {
	RoleID        int64  `json:"role_id"`
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	AffectedUsers int    `json:"affected_users"`
}
