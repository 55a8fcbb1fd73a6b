// Package types provides domain models shared across rcwatch components.
//
// Zero-dependency design: errors.go, rules.go and this file use only the
// standard library. ID utilities in ids.go import uuid for alert identifiers.
package types

// Resource limits enforced by the rule engine and the feed.
const (
	// MaxPathDepth prevents runaway traversal of deeply nested events.
	// 16 levels covers wiki change events (length/new, revision/old...) with room to spare.
	MaxPathDepth = 16

	// MaxExprDepth bounds rule nesting so recursive compilation and evaluation
	// cannot exhaust the stack on hostile input.
	MaxExprDepth = 64

	// MaxRuleLength bounds the rule source text accepted for registration.
	MaxRuleLength = 4096

	// DefaultMaxLineLength matches the classic IRC message bound.
	DefaultMaxLineLength = 512

	// DefaultMaxBufferBytes bounds a source's partial-event buffer.
	// 64KB holds any realistic change event split across transport lines.
	DefaultMaxBufferBytes = 64 * 1024
)
