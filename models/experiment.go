package models

// ExperimentStatusRunning is the only experiment status that affects
// evaluation; any other status makes the experiment inert.
const ExperimentStatusRunning = "RUNNING"

// Traffic distribution types.
const (
	DistributionAll    = "ALL"
	DistributionNoRule = "NO_RULE"
	DistributionRule   = "RULE"
)

// Audience groups reported in experiment exposure events.
const (
	AudienceExperiment = "experiment"
	AudienceControl    = "control"
)

// Experiment overrides ordinary targeting for a feature while RUNNING.
type Experiment struct {
	ExperimentID        string              `json:"experiment_id"`
	Status              string              `json:"experiment_status"`
	TrafficDistribution TrafficDistribution `json:"traffic_distribution"`
	Iteration           Iteration           `json:"iteration"`
	Variations          []Variation         `json:"variations"`
}

// Running reports whether the experiment influences evaluation.
func (e *Experiment) Running() bool {
	return e != nil && e.Status == ExperimentStatusRunning
}

// TrafficDistribution describes how entities are split across variations.
// RuleID is only meaningful for the RULE type, where it names the
// segment-rule order that forms the experiment audience.
type TrafficDistribution struct {
	Type              string           `json:"type"`
	RuleID            string           `json:"rule_id,omitempty"`
	ExperimentalGroup []VariationShare `json:"experimental_group"`
	ControlGroup      VariationShare   `json:"control_group"`
}

// VariationShare assigns a slice of the rollout space to one variation.
type VariationShare struct {
	VariationID       string `json:"variation_id"`
	RolloutPercentage int    `json:"rollout_percentage"`
}

// Iteration identifies the current run of an experiment. The iteration key
// is mixed into the bucketing hash so a new iteration reshuffles entities.
type Iteration struct {
	IterationID  string `json:"iteration_id"`
	IterationKey string `json:"iteration_key"`
}

// Variation is one servable experiment value.
type Variation struct {
	VariationID    string `json:"variation_id"`
	VariationValue any    `json:"variation_value"`
}
