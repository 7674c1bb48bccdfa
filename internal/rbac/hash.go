package rbac

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// PermissionHash digests a set of permission codenames into a stable
// hex string for drift detection. The input is deduplicated and sorted
// first, so the hash depends only on the effective permission set —
// not on role ordering or on the same codename being granted through
// several roles.
func PermissionHash(codenames []string) string {
	uniq := make([]string, 0, len(codenames))
	seen := make(map[string]struct{}, len(codenames))
	for _, c := range codenames {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		uniq = append(uniq, c)
	}
	sort.Strings(uniq)

	sum := md5.Sum([]byte(strings.Join(uniq, ",")))
	return hex.EncodeToString(sum[:])
}
