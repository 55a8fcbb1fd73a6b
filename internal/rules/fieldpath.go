// internal/rules/fieldpath.go
package rules

import (
	"strconv"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

/*
 * Field path resolution for decoded event records.
 *
 * A path such as "length/new" or "log_params/0" is split on '/'. Each segment
 * selects a key in an object, or an element in an array when the segment is
 * a non-negative integer. Indexing the wrong node kind, a missing key, an
 * index out of range, or traversing through null or a scalar all yield
 * ErrFieldNotFound. A present null leaf is found, with value nil.
 *
 * Paths are parsed once at compile time; Resolve only walks.
 */

// ParsePath splits a '/'-separated field path into segments.
func ParsePath(path string) []types.PathSegment {
	parts := strings.Split(path, "/")
	segments := make([]types.PathSegment, len(parts))
	for i, part := range parts {
		segments[i] = types.PathSegment{Key: part}
		if n, err := strconv.Atoi(part); err == nil && n >= 0 {
			segments[i].Index = n
			segments[i].IsIndex = true
		}
	}
	return segments
}

// Resolve traverses data following path segments.
// Returns ErrPathTooDeep if path exceeds MaxPathDepth.
// Returns ErrFieldNotFound if path does not exist in data.
func Resolve(path []types.PathSegment, data any) (any, error) {
	if len(path) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}
	return resolveRecursive(path, data)
}

// Lookup parses path and resolves it against data.
func Lookup(path string, data any) (any, error) {
	return Resolve(ParsePath(path), data)
}

func resolveRecursive(path []types.PathSegment, current any) (any, error) {
	if len(path) == 0 {
		return current, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		val, ok := v[seg.Key]
		if !ok {
			return nil, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val)

	case []any:
		if !seg.IsIndex {
			// Cannot use string key on array
			return nil, types.ErrFieldNotFound
		}
		if seg.Index < 0 || seg.Index >= len(v) {
			return nil, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index])

	default:
		// Null or scalar value but path continues
		return nil, types.ErrFieldNotFound
	}
}
