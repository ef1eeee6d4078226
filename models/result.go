package models

// ValueKind tags which branch of the evaluation state machine produced the
// result value.
type ValueKind string

const (
	ValueEnabled   ValueKind = "ENABLED_VALUE"
	ValueDisabled  ValueKind = "DISABLED_VALUE"
	ValueSegment   ValueKind = "SEGMENT_VALUE"
	ValueVariation ValueKind = "VARIATION"
	ValueDefault   ValueKind = "DEFAULT_VALUE"
	ValueError     ValueKind = "ERROR"
)

// Details explains an evaluation outcome. Reason is human-readable and not
// part of the contract; ValueKind is.
type Details struct {
	ValueKind      ValueKind `json:"valueType"`
	Reason         string    `json:"reason"`
	SegmentName    string    `json:"segmentName,omitempty"`
	RolloutApplied *bool     `json:"rolloutPercentageApplied,omitempty"`
	ErrorType      string    `json:"errorType,omitempty"`
}

// FeatureResult is the outcome of one feature evaluation. Value is typed
// per the feature's declared data type; it is nil on evaluation errors.
type FeatureResult struct {
	Value              any     `json:"value"`
	Enabled            bool    `json:"isEnabled"`
	EvaluatedSegmentID string  `json:"evaluatedSegmentId"`
	Details            Details `json:"details"`
}

// PropertyResult is the outcome of one property evaluation.
type PropertyResult struct {
	Value              any     `json:"value"`
	EvaluatedSegmentID string  `json:"evaluatedSegmentId"`
	Details            Details `json:"details"`
}
