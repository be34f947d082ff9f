package core

import "strconv"

// newerVersion reports whether candidate is strictly newer than
// current.
//
// Kubernetes documents resource versions as opaque strings, but every
// supported storage backend (etcd revisions) emits unsigned decimal
// integers, and list/watch resumption already relies on that. When
// both values parse as uint64 they are compared numerically. When
// either does not, the feed order is the only ordering available, so a
// differing candidate counts as newer. An empty candidate is never
// newer, and anything non-empty is newer than an empty current value.
func newerVersion(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}

	c, errC := strconv.ParseUint(candidate, 10, 64)
	o, errO := strconv.ParseUint(current, 10, 64)
	if errC == nil && errO == nil {
		return c > o
	}

	return candidate != current
}

// CompareVersions orders two resource versions numerically. ok is
// false when either is not a decimal integer.
func CompareVersions(a, b string) (cmp int, ok bool) {
	x, errA := strconv.ParseUint(a, 10, 64)
	y, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	default:
		return 0, true
	}
}
