package models

// Operator is a comparison operator used in segment attribute rules.
// The set is fixed; unknown operators evaluate to false.
type Operator string

const (
	OpIs                Operator = "is"
	OpEndsWith          Operator = "endsWith"
	OpStartsWith        Operator = "startsWith"
	OpContains          Operator = "contains"
	OpGreaterThan       Operator = "greaterThan"
	OpLesserThan        Operator = "lesserThan"
	OpGreaterThanEquals Operator = "greaterThanEquals"
	OpLesserThanEquals  Operator = "lesserThanEquals"
)

// Rule is a single attribute predicate inside a segment. The rule matches
// when ANY of Values satisfies the operator against the entity's attribute.
// A missing attribute never matches.
type Rule struct {
	AttributeName string   `json:"attribute_name"`
	Operator      Operator `json:"operator"`
	Values        []any    `json:"values"`
}

// Segment is a named, reusable predicate over entity attributes. All rules
// must match (logical AND).
type Segment struct {
	Name      string `json:"name"`
	SegmentID string `json:"segment_id"`
	Rules     []Rule `json:"rules"`
}
