// Package audit records who changed which role's permissions.
// Recording is best-effort: failures are logged by callers and never
// block or fail the mutation that produced the event.
package audit

import (
	"context"
	"time"
)

// Event describes one role-permission mutation.
type Event struct {
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	RoleID    int64     `json:"role_id"`
	RoleName  string    `json:"role_name"`
	Action    string    `json:"action"`
	Codenames []string  `json:"codenames"`
	At        time.Time `json:"at"`
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, evt Event) error
	Close() error
}
