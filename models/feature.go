package models

// Feature is a feature flag definition. The disabled value is returned
// whenever Enabled is false, regardless of targeting rules.
type Feature struct {
	Name          string        `json:"name"`
	FeatureID     string        `json:"feature_id"`
	Type          DataType      `json:"type"`
	Format        DataFormat    `json:"format,omitempty"`
	EnabledValue  any           `json:"enabled_value"`
	DisabledValue any           `json:"disabled_value"`
	Enabled       bool          `json:"enabled"`

	// RolloutPercentage is nil when the definition omits the field; the
	// effective default is 100. Use Rollout.
	RolloutPercentage *int `json:"rollout_percentage,omitempty"`

	SegmentRules []SegmentRule   `json:"segment_rules"`
	Experiment   *Experiment     `json:"experiment,omitempty"`
	Collections  []CollectionRef `json:"collections,omitempty"`
}

// Rollout returns the feature's own rollout percentage, defaulting to 100.
func (f *Feature) Rollout() int {
	if f.RolloutPercentage == nil {
		return 100
	}
	return *f.RolloutPercentage
}

// DataFormat returns the value format. STRING features with no declared
// format default to TEXT; BOOLEAN and NUMERIC features have none.
func (f *Feature) DataFormat() DataFormat {
	if f.Format == "" && f.Type == TypeString {
		return FormatText
	}
	return f.Format
}

// Property is a configuration property definition: like a feature but with
// a single default value, no enabled/disabled duality and no experiments.
type Property struct {
	Name       string     `json:"name"`
	PropertyID string     `json:"property_id"`
	Type       DataType   `json:"type"`
	Format     DataFormat `json:"format,omitempty"`
	Value      any        `json:"value"`

	SegmentRules []SegmentRule   `json:"segment_rules"`
	Collections  []CollectionRef `json:"collections,omitempty"`
}

// DataFormat returns the value format, defaulting STRING to TEXT.
func (p *Property) DataFormat() DataFormat {
	if p.Format == "" && p.Type == TypeString {
		return FormatText
	}
	return p.Format
}
