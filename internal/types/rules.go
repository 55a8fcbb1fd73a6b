// internal/types/rules.go
package types

/*
 * Shared path types for rule evaluation.
 *
 * Field references in rules and ${...} placeholders in output templates both
 * address the event record with '/'-separated paths. A segment is an object
 * key, and also an array index when it is a non-negative integer; which one
 * applies depends on the node being traversed.
 */

// PathSegment represents one component of a field path.
type PathSegment struct {
	Key     string // object key, always set
	Index   int    // array index (valid only if IsIndex)
	IsIndex bool   // segment is a non-negative integer usable as an index
}
