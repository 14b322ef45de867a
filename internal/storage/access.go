package storage

// Access rules for owner-scoped resources.
//
// A caller identity of "" means authentication is disabled and owner
// filtering is skipped entirely. A resource owner of "" means the resource
// predates ownership stamping (or was created anonymously) and is visible
// to everyone.

// CanRead reports whether the caller may see the resource.
// System-owned resources are readable by every caller.
func CanRead(resourceOwner, caller string) bool {
	if caller == "" || resourceOwner == "" {
		return true
	}
	return resourceOwner == caller || resourceOwner == SystemOwner
}

// CanWrite reports whether the caller may mutate or delete the resource.
// System-owned resources are writable only by the runtime itself, which
// calls storage with an empty caller identity.
func CanWrite(resourceOwner, caller string) bool {
	if caller == "" || resourceOwner == "" {
		return true
	}
	return resourceOwner == caller
}

// StampOwner sets the owner key on metadata when a caller identity is
// present, returning the (possibly newly allocated) map.
func StampOwner(metadata map[string]any, caller string) map[string]any {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if caller != "" {
		metadata[OwnerMetadataKey] = caller
	}
	return metadata
}

// MergeMetadata shallow-merges patch into base, preserving base's owner
// stamp. A nil patch leaves base untouched.
func MergeMetadata(base, patch map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	if patch == nil {
		return base
	}
	owner, hadOwner := base[OwnerMetadataKey]
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	if hadOwner {
		merged[OwnerMetadataKey] = owner
	}
	return merged
}

// MatchesMetadata reports whether every key/value pair in filter is present
// in metadata. Values are compared by JSON-level equality for scalars; nested
// documents compare recursively.
func MatchesMetadata(metadata, filter map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	if metadata == nil {
		return false
	}
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !valuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return normalizeNumber(a) == normalizeNumber(b)
	}
}

// normalizeNumber folds the numeric types JSON decoding can produce so that
// 2 and 2.0 compare equal.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// ClampLimit bounds a page size to [1, 1000], defaulting to 10 when unset.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// ClampOffset floors an offset at 0.
func ClampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
