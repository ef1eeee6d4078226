package engine

import (
	"sort"

	"github.com/TimurManjosov/goflagclient/models"
)

// SegmentLookup resolves segment ids referenced by targeting rules,
// typically backed by a cache snapshot.
type SegmentLookup interface {
	Segment(id string) (*models.Segment, bool)
}

// RuleMatches evaluates one attribute rule against an entity attribute map.
// A missing attribute never matches; the rule matches when ANY of its
// values satisfies the operator.
func RuleMatches(rule models.Rule, attrs models.Attributes) bool {
	attrValue, ok := attrs[rule.AttributeName]
	if !ok {
		return false
	}
	for _, candidate := range rule.Values {
		if checkOperator(rule.Operator, attrValue, candidate) {
			return true
		}
	}
	return false
}

// SegmentMatches reports whether the entity satisfies every rule of the
// segment. Evaluation short-circuits on the first failing rule.
func SegmentMatches(seg *models.Segment, attrs models.Attributes) bool {
	for i := range seg.Rules {
		if !RuleMatches(seg.Rules[i], attrs) {
			return false
		}
	}
	return true
}

// segmentMatch describes the winning targeting entry of a resolution pass.
type segmentMatch struct {
	rule        models.SegmentRule
	segmentID   string
	segmentName string
}

// findSegmentMatch walks the targeting entries in ascending order, and
// within each entry its rule groups and their referenced segments, in
// definition order. The first matching segment wins; no later entry can
// override it. Returns nil when nothing matched. Referenced segments
// missing from the lookup are skipped.
func findSegmentMatch(rules []models.SegmentRule, attrs models.Attributes, segments SegmentLookup) *segmentMatch {
	ordered := make([]models.SegmentRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for _, entry := range ordered {
		for _, group := range entry.Rules {
			for _, segmentID := range group.Segments {
				seg, ok := segments.Segment(segmentID)
				if !ok {
					continue
				}
				if SegmentMatches(seg, attrs) {
					return &segmentMatch{rule: entry, segmentID: segmentID, segmentName: seg.Name}
				}
			}
		}
	}
	return nil
}
