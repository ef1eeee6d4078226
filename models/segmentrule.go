package models

import (
	"encoding/json"
	"fmt"
)

// RuleGroup references the segments of one targeting rule level. The group
// matches when ANY referenced segment matches.
type RuleGroup struct {
	Segments []string `json:"segments"`
}

// SegmentRule is one ordered entry of a feature's or property's targeting
// definition: a list of rule groups, an override value (possibly the
// "$default" inherit sentinel) and a rollout percentage.
type SegmentRule struct {
	Rules             []RuleGroup `json:"rules"`
	Value             any         `json:"value"`
	Order             int         `json:"order"`
	RolloutPercentage Percentage  `json:"rollout_percentage"`
}

// HasDefaultValue reports whether the entry's override value is the
// inherit sentinel.
func (r SegmentRule) HasDefaultValue() bool {
	return IsDefaultValue(r.Value)
}

// Percentage is a rollout percentage field that on the wire is either a
// number, the "$default" inherit sentinel, or absent. An absent field
// decodes to 100.
type Percentage struct {
	value   int
	set     bool
	inherit bool
}

// NewPercentage returns a concrete percentage value.
func NewPercentage(v int) Percentage {
	return Percentage{value: v, set: true}
}

// InheritedPercentage returns the "$default" sentinel value.
func InheritedPercentage() Percentage {
	return Percentage{inherit: true}
}

// Resolve returns the effective percentage: the owner's own rollout
// percentage when the field carries the inherit sentinel, 100 when the
// field was absent, the concrete value otherwise.
func (p Percentage) Resolve(ownerRollout int) int {
	if p.inherit {
		return ownerRollout
	}
	if !p.set {
		return 100
	}
	return p.value
}

// IsInherited reports whether the field carried the "$default" sentinel.
func (p Percentage) IsInherited() bool { return p.inherit }

func (p *Percentage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s != DefaultSentinel {
			return fmt.Errorf("rollout_percentage: unexpected string %q", s)
		}
		*p = Percentage{inherit: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("rollout_percentage: %w", err)
	}
	*p = Percentage{value: n, set: true}
	return nil
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	if p.inherit {
		return json.Marshal(DefaultSentinel)
	}
	if !p.set {
		return json.Marshal(100)
	}
	return json.Marshal(p.value)
}
