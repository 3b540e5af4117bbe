package dbformat

// Boundary is a tagged file-boundary value. A file's largest boundary may be
// derived from a range tombstone's exclusive end key rather than from a point
// record; such a boundary is marked Exclusive so adjacency checks do not
// treat it as owning the key itself. An Exclusive largest equal to the next
// file's smallest is not an overlap.
type Boundary struct {
	UserKey   []byte
	Exclusive bool
}

// InclusiveBoundary returns a boundary that owns key. The key is copied.
func InclusiveBoundary(key []byte) Boundary {
	return Boundary{UserKey: append([]byte(nil), key...)}
}

// SentinelBoundary returns an exclusive boundary at a tombstone end key.
// The key is copied.
func SentinelBoundary(key []byte) Boundary {
	return Boundary{UserKey: append([]byte(nil), key...), Exclusive: true}
}

// IsSet reports whether the boundary has been assigned.
func (b Boundary) IsSet() bool {
	return b.UserKey != nil
}

// ExtendLargest widens b to cover other if other reaches further. An
// inclusive boundary at a key beats an exclusive one at the same key.
func (b Boundary) ExtendLargest(cmp Comparer, other Boundary) Boundary {
	if !b.IsSet() {
		return other
	}
	if !other.IsSet() {
		return b
	}
	switch v := cmp(other.UserKey, b.UserKey); {
	case v > 0:
		return other
	case v == 0 && b.Exclusive && !other.Exclusive:
		return other
	}
	return b
}

// OverlapsLargestSmallest reports whether a file ending at largest overlaps a
// file starting at smallest, under cmp. An exclusive largest that equals
// smallest does not overlap.
func OverlapsLargestSmallest(cmp Comparer, largest Boundary, smallest []byte) bool {
	if !largest.IsSet() {
		return false
	}
	v := cmp(largest.UserKey, smallest)
	if v > 0 {
		return true
	}
	return v == 0 && !largest.Exclusive
}
