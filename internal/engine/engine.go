// Package engine implements deterministic rule-based evaluation of feature
// flags and properties against an entity id and attribute map.
//
// Evaluation is pure: it reads the definition it was handed plus a segment
// lookup (one cache snapshot) and returns the result together with the
// usage or exposure event the caller should dispatch. The engine itself
// never talks to the usage recorder, so it can be tested without one and a
// concurrent cache swap cannot tear a single evaluation.
package engine

import (
	"fmt"
	"strconv"

	"github.com/TimurManjosov/goflagclient/internal/bucketing"
	"github.com/TimurManjosov/goflagclient/models"
)

// UsageEvent is the metering record of one evaluation. Exactly one of
// FeatureID/PropertyID is set.
type UsageEvent struct {
	FeatureID  string
	PropertyID string
	EntityID   string
	SegmentID  string
}

// ExposureEvent records that an entity was served an experiment variation.
type ExposureEvent struct {
	ExperimentID  string
	IterationID   string
	FeatureID     string
	VariationID   string
	EntityID      string
	AudienceGroup string
}

// Events is the side-effect output of one evaluation. Exactly one field is
// non-nil: an exposure event when an experiment variation was served, a
// usage event otherwise.
type Events struct {
	Usage    *UsageEvent
	Exposure *ExposureEvent
}

// EvaluateFeature resolves the value an entity should observe for a
// feature flag. See the state machine below; every terminal path fills
// Details with the branch that fired.
//
//  1. Disabled flag: disabled value, unconditionally.
//  2. Running experiment: route by traffic distribution (ALL / NO_RULE /
//     RULE); entities inside the experiment audience are bucketed across
//     variations, entities outside it get ordinary targeting with
//     isEnabled=false.
//  3. Targeting rules, when configured and attributes were supplied:
//     first matching segment wins, then the segment-level (or inherited)
//     rollout percentage decides enabled/disabled.
//  4. Otherwise the flag's own rollout percentage decides.
//
// Evaluation never panics out: an unexpected failure inside rule
// evaluation produces an ERROR-kind result with a nil value.
func EvaluateFeature(f *models.Feature, entityID string, attrs models.Attributes, segments SegmentLookup) (models.FeatureResult, Events) {
	res, exposure := evaluateFeature(f, entityID, attrs, segments)
	if exposure != nil {
		return res, Events{Exposure: exposure}
	}
	return res, Events{Usage: &UsageEvent{
		FeatureID: f.FeatureID,
		EntityID:  entityID,
		SegmentID: res.EvaluatedSegmentID,
	}}
}

// EvaluateProperty resolves a property value: first matching segment's
// override (or the inherited default) when targeting applies, the
// property's own value otherwise. Properties have no enabled/disabled
// duality, no rollout and no experiments.
func EvaluateProperty(p *models.Property, entityID string, attrs models.Attributes, segments SegmentLookup) (models.PropertyResult, Events) {
	res := evaluateProperty(p, attrs, segments)
	return res, Events{Usage: &UsageEvent{
		PropertyID: p.PropertyID,
		EntityID:   entityID,
		SegmentID:  res.EvaluatedSegmentID,
	}}
}

func evaluateFeature(f *models.Feature, entityID string, attrs models.Attributes, segments SegmentLookup) (res models.FeatureResult, exposure *ExposureEvent) {
	res = models.FeatureResult{EvaluatedSegmentID: models.NullSegmentID}
	defer func() {
		if r := recover(); r != nil {
			res = models.FeatureResult{
				EvaluatedSegmentID: models.NullSegmentID,
				Details: models.Details{
					ValueKind: models.ValueError,
					Reason:    "evaluation failed; returning nil value",
					ErrorType: fmt.Sprint(r),
				},
			}
			exposure = nil
		}
	}()

	if !f.Enabled {
		res.Value = f.DisabledValue
		res.Details = models.Details{
			ValueKind: models.ValueDisabled,
			Reason:    "feature flag is disabled",
		}
		return res, nil
	}

	if f.Experiment.Running() {
		return evaluateExperiment(f, entityID, attrs, segments)
	}

	if len(f.SegmentRules) > 0 && len(attrs) > 0 {
		if m := findSegmentMatch(f.SegmentRules, attrs, segments); m != nil {
			return featureSegmentResult(f, m, entityID), nil
		}
	}
	return featureDefaultRollout(f, entityID), nil
}

// featureSegmentResult applies the matched entry's rollout percentage
// (inheriting the feature's own when the entry carries the sentinel) and
// serves the override or inherited enabled value, or the disabled value
// when the entity falls outside the rollout.
func featureSegmentResult(f *models.Feature, m *segmentMatch, entityID string) models.FeatureResult {
	rollout := m.rule.RolloutPercentage.Resolve(f.Rollout())
	res := models.FeatureResult{EvaluatedSegmentID: m.segmentID}
	res.Details.SegmentName = m.segmentName

	if bucketing.InRollout(entityID, f.FeatureID, rollout) {
		if m.rule.HasDefaultValue() {
			res.Value = f.EnabledValue
		} else {
			res.Value = m.rule.Value
		}
		res.Enabled = true
		res.Details.ValueKind = models.ValueSegment
		res.Details.RolloutApplied = boolPtr(true)
		res.Details.Reason = fmt.Sprintf("entity %q matched segment %q and is within its %d%% rollout", entityID, m.segmentName, rollout)
		return res
	}

	res.Value = f.DisabledValue
	res.Enabled = false
	res.Details.ValueKind = models.ValueDisabled
	res.Details.RolloutApplied = boolPtr(false)
	res.Details.Reason = fmt.Sprintf("entity %q matched segment %q but is outside its %d%% rollout", entityID, m.segmentName, rollout)
	return res
}

// featureDefaultRollout decides enabled/disabled by the feature's own
// rollout percentage when no targeting applied.
func featureDefaultRollout(f *models.Feature, entityID string) models.FeatureResult {
	res := models.FeatureResult{EvaluatedSegmentID: models.NullSegmentID}
	if bucketing.InRollout(entityID, f.FeatureID, f.Rollout()) {
		res.Value = f.EnabledValue
		res.Enabled = true
		res.Details.ValueKind = models.ValueEnabled
		res.Details.RolloutApplied = boolPtr(true)
		res.Details.Reason = fmt.Sprintf("entity %q is within the feature's %d%% rollout", entityID, f.Rollout())
		return res
	}
	res.Value = f.DisabledValue
	res.Details.ValueKind = models.ValueDisabled
	res.Details.RolloutApplied = boolPtr(false)
	res.Details.Reason = fmt.Sprintf("entity %q is outside the feature's %d%% rollout", entityID, f.Rollout())
	return res
}

func evaluateExperiment(f *models.Feature, entityID string, attrs models.Attributes, segments SegmentLookup) (models.FeatureResult, *ExposureEvent) {
	td := f.Experiment.TrafficDistribution

	switch td.Type {
	case models.DistributionAll:
		return bucketVariation(f, entityID)

	case models.DistributionNoRule:
		// Entities matching a targeting rule are excluded from the
		// experiment audience and get ordinary segment resolution.
		if len(f.SegmentRules) > 0 && len(attrs) > 0 {
			if m := findSegmentMatch(f.SegmentRules, attrs, segments); m != nil {
				return experimentSegmentResult(f, m, entityID), nil
			}
		}
		return bucketVariation(f, entityID)

	case models.DistributionRule:
		if len(f.SegmentRules) > 0 && len(attrs) > 0 {
			if m := findSegmentMatch(f.SegmentRules, attrs, segments); m != nil {
				ruleID, err := strconv.Atoi(td.RuleID)
				if err == nil && ruleID == m.rule.Order {
					// The matched rule is the experiment audience.
					res, exposure := bucketVariation(f, entityID)
					res.EvaluatedSegmentID = m.segmentID
					return res, exposure
				}
				return experimentSegmentResult(f, m, entityID), nil
			}
		}
		return experimentDefaultRollout(f, entityID), nil

	default:
		return models.FeatureResult{
			EvaluatedSegmentID: models.NullSegmentID,
			Details: models.Details{
				ValueKind: models.ValueError,
				Reason:    fmt.Sprintf("unknown traffic distribution type %q", td.Type),
				ErrorType: "invalid traffic distribution",
			},
		}, nil
	}
}

// bucketVariation assigns the entity to a variation (or control) via
// cumulative rollout ranges over the experiment hash. Entities served a
// variation are part of the experiment audience, so isEnabled is true and
// an exposure event replaces the usage record.
func bucketVariation(f *models.Feature, entityID string) (models.FeatureResult, *ExposureEvent) {
	exp := f.Experiment
	td := exp.TrafficDistribution

	shares := make([]struct {
		share    models.VariationShare
		audience string
	}, 0, len(td.ExperimentalGroup)+1)
	for _, s := range td.ExperimentalGroup {
		shares = append(shares, struct {
			share    models.VariationShare
			audience string
		}{s, models.AudienceExperiment})
	}
	shares = append(shares, struct {
		share    models.VariationShare
		audience string
	}{td.ControlGroup, models.AudienceControl})

	hash := bucketing.Normalize(bucketing.ExperimentKey(entityID, f.FeatureID, exp.Iteration.IterationKey))

	var variationID, audience string
	cumulative := 0
	for _, s := range shares {
		variationID = s.share.VariationID
		audience = s.audience
		cumulative += s.share.RolloutPercentage
		if hash < cumulative {
			break
		}
	}

	for _, v := range exp.Variations {
		if v.VariationID != variationID {
			continue
		}
		res := models.FeatureResult{
			Value:              v.VariationValue,
			Enabled:            true,
			EvaluatedSegmentID: models.NullSegmentID,
			Details: models.Details{
				ValueKind: models.ValueVariation,
				Reason:    fmt.Sprintf("entity %q is in the %s group, serving variation %q", entityID, audience, v.VariationID),
			},
		}
		return res, &ExposureEvent{
			ExperimentID:  exp.ExperimentID,
			IterationID:   exp.Iteration.IterationID,
			FeatureID:     f.FeatureID,
			VariationID:   v.VariationID,
			EntityID:      entityID,
			AudienceGroup: audience,
		}
	}

	// The winning share references a variation that is not servable.
	// Surfacing the misconfiguration beats silently moving the entity
	// into the default rollout space.
	return models.FeatureResult{
		EvaluatedSegmentID: models.NullSegmentID,
		Details: models.Details{
			ValueKind: models.ValueError,
			Reason:    "no variation was found to serve",
			ErrorType: "missing variation",
		},
	}, nil
}

// experimentSegmentResult serves the matched segment's value to an entity
// that is outside the experiment audience. isEnabled stays false.
func experimentSegmentResult(f *models.Feature, m *segmentMatch, entityID string) models.FeatureResult {
	rollout := m.rule.RolloutPercentage.Resolve(f.Rollout())
	res := models.FeatureResult{EvaluatedSegmentID: m.segmentID}
	res.Details.SegmentName = m.segmentName

	if bucketing.InRollout(entityID, f.FeatureID, rollout) {
		if m.rule.HasDefaultValue() {
			res.Value = f.EnabledValue
		} else {
			res.Value = m.rule.Value
		}
		res.Details.ValueKind = models.ValueSegment
	} else {
		res.Value = f.DisabledValue
		res.Details.ValueKind = models.ValueDisabled
	}
	res.Details.Reason = fmt.Sprintf("entity %q is not part of the experiment audience", entityID)
	return res
}

// experimentDefaultRollout applies the feature's own rollout to an entity
// outside the experiment audience of a RULE-distributed experiment.
func experimentDefaultRollout(f *models.Feature, entityID string) models.FeatureResult {
	res := models.FeatureResult{EvaluatedSegmentID: models.NullSegmentID}
	if bucketing.InRollout(entityID, f.FeatureID, f.Rollout()) {
		res.Value = f.EnabledValue
		res.Details.ValueKind = models.ValueEnabled
	} else {
		res.Value = f.DisabledValue
		res.Details.ValueKind = models.ValueDisabled
	}
	res.Details.Reason = fmt.Sprintf("entity %q is not part of the experiment audience", entityID)
	return res
}

func evaluateProperty(p *models.Property, attrs models.Attributes, segments SegmentLookup) (res models.PropertyResult) {
	res = models.PropertyResult{EvaluatedSegmentID: models.NullSegmentID}
	defer func() {
		if r := recover(); r != nil {
			res = models.PropertyResult{
				EvaluatedSegmentID: models.NullSegmentID,
				Details: models.Details{
					ValueKind: models.ValueError,
					Reason:    "evaluation failed; returning nil value",
					ErrorType: fmt.Sprint(r),
				},
			}
		}
	}()

	if len(p.SegmentRules) > 0 && len(attrs) > 0 {
		if m := findSegmentMatch(p.SegmentRules, attrs, segments); m != nil {
			res.EvaluatedSegmentID = m.segmentID
			res.Details.SegmentName = m.segmentName
			if m.rule.HasDefaultValue() {
				res.Value = p.Value
			} else {
				res.Value = m.rule.Value
			}
			res.Details.ValueKind = models.ValueSegment
			res.Details.Reason = fmt.Sprintf("entity matched segment %q", m.segmentName)
			return res
		}
	}

	res.Value = p.Value
	res.Details.ValueKind = models.ValueDefault
	res.Details.Reason = "no targeting rule matched; serving the property's default value"
	return res
}

func boolPtr(b bool) *bool { return &b }
