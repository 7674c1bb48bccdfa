package rbac

import "time"

// TTLs for the ephemeral change-notification entries. Expiry is the
// only cleanup mechanism for unconsumed entries; absence of an entry
// means "no pending change".
const (
	// TTLChangeFlag bounds how long an explicit "permissions changed"
	// flag waits to be observed by a poll.
	TTLChangeFlag = 5 * time.Minute

	// TTLNotification bounds delivery of the human-readable message.
	TTLNotification = 10 * time.Minute

	// TTLPermissionHash keeps the last-seen permission hash for
	// implicit drift detection between polls.
	TTLPermissionHash = time.Hour
)
