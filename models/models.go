// Package models defines the configuration entities evaluated by the SDK:
// feature flags, properties, segments, targeting rules and experiments,
// together with the wire payload they are delivered in and the result types
// evaluation produces.
//
// Entities are constructed fresh on every cache load and never mutated in
// place; a new load replaces them wholesale.
package models

// DataType is the declared type of a feature or property value.
type DataType string

const (
	TypeBoolean   DataType = "BOOLEAN"
	TypeString    DataType = "STRING"
	TypeNumeric   DataType = "NUMERIC"
	TypeSecretRef DataType = "SECRETREF"
)

// DataFormat refines STRING values.
type DataFormat string

const (
	FormatText DataFormat = "TEXT"
	FormatJSON DataFormat = "JSON"
	FormatYAML DataFormat = "YAML"
)

const (
	// DefaultSentinel marks a segment-rule value or rollout percentage
	// that inherits from the owning feature or property.
	DefaultSentinel = "$default"

	// NullSegmentID is reported in usage records and results when no
	// segment matched during evaluation.
	NullSegmentID = "$$null$$"

	// NullEntityID is reported in usage records when no entity id is known.
	NullEntityID = "$$null$$"
)

// Attributes is the attribute map describing the entity under evaluation.
type Attributes map[string]any

// IsDefaultValue reports whether a segment-rule override value is the
// inherit sentinel rather than a concrete value.
func IsDefaultValue(v any) bool {
	s, ok := v.(string)
	return ok && s == DefaultSentinel
}
