// Package cache provides the TTL key-value store used for ephemeral
// permission-change state.
//
// Keys are structured (purpose + user id) instead of interpolated
// strings so that two purposes can never collide on the same rendered
// key. Absence of a key is normal — entries expire on their own and a
// missing entry simply means "no pending change", never an error.
package cache

import (
	"context"
	"time"
)

// Kind is the closed set of cache entry purposes.
type Kind int

const (
	// KindPermissionSet caches a user's resolved permission snapshot.
	KindPermissionSet Kind = iota
	// KindChangeFlag marks that a role mutation affected the user.
	KindChangeFlag
	// KindNotification carries the human-readable change message.
	KindNotification
	// KindHash stores the last permission hash seen for the user.
	KindHash
)

// Key identifies one cache entry for one user.
type Key struct {
	Kind   Kind
	UserID int64
}

// String renders the backend key. The prefixes are distinct per Kind by
// construction.
func (k Key) String() string {
	var prefix string
	switch k.Kind {
	case KindPermissionSet:
		prefix = "perm:set:"
	case KindChangeFlag:
		prefix = "perm:changed:"
	case KindNotification:
		prefix = "perm:notify:"
	case KindHash:
		prefix = "perm:hash:"
	default:
		prefix = "perm:unknown:"
	}
	return prefix + itoa(k.UserID)
}

// Store is a TTL key-value store. Values are opaque bytes; callers own
// the encoding. Get returns ok=false for absent or expired entries.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
	Close() error
}

// itoa converts an int64 to its decimal string without importing
// strconv in the key hot path.
func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
