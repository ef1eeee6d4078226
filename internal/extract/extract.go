// Package extract validates a raw configuration payload and scopes it to one
// collection and environment. The same contract applies to every data
// source: remote fetch responses, persistent cache reads and bootstrap
// files all pass through Extract before anything reaches the cache, so a
// load either produces a fully consistent configuration or fails whole.
package extract

import (
	"encoding/json"
	"fmt"

	"github.com/TimurManjosov/goflagclient/models"
)

// ValidationError rejects one configuration load attempt. The prior cache
// state, if any, stays in effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration payload: %s: %s", e.Field, e.Message)
}

// Parse decodes a raw JSON payload. Malformed JSON is a ValidationError.
func Parse(data []byte) (*models.ConfigPayload, error) {
	var payload models.ConfigPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}
	return &payload, nil
}

// Extract selects the features and properties of the requested collection
// and environment, together with every segment their targeting rules
// reference, directly or through other selected entities.
//
// The payload must declare the requested collection and environment, and
// must define every referenced segment. A dangling segment reference fails
// the whole load attempt; partially loading a feature without its segments
// would make targeting silently evaluate wrong.
func Extract(payload *models.ConfigPayload, collectionID, environmentID string) (*models.Configuration, error) {
	if payload == nil {
		return nil, &ValidationError{Field: "payload", Message: "empty payload"}
	}
	if !hasCollection(payload.Collections, collectionID) {
		return nil, &ValidationError{Field: "collections", Message: fmt.Sprintf("collection %q is not declared by the payload", collectionID)}
	}
	env := findEnvironment(payload.Environments, environmentID)
	if env == nil {
		return nil, &ValidationError{Field: "environments", Message: fmt.Sprintf("environment %q is not declared by the payload", environmentID)}
	}

	cfg := &models.Configuration{}
	referenced := make(map[string]struct{})

	for _, f := range env.Features {
		if !inCollection(f.Collections, collectionID) {
			continue
		}
		collectSegmentIDs(f.SegmentRules, referenced)
		cfg.Features = append(cfg.Features, f)
	}
	for _, p := range env.Properties {
		if !inCollection(p.Collections, collectionID) {
			continue
		}
		collectSegmentIDs(p.SegmentRules, referenced)
		cfg.Properties = append(cfg.Properties, p)
	}

	defined := make(map[string]struct{}, len(payload.Segments))
	for _, s := range payload.Segments {
		defined[s.SegmentID] = struct{}{}
	}
	for id := range referenced {
		if _, ok := defined[id]; !ok {
			return nil, &ValidationError{Field: "segments", Message: fmt.Sprintf("segment %q is referenced by a targeting rule but not defined", id)}
		}
	}
	for _, s := range payload.Segments {
		if _, ok := referenced[s.SegmentID]; ok {
			cfg.Segments = append(cfg.Segments, s)
		}
	}
	return cfg, nil
}

// Format re-encodes an extracted configuration in the shared payload shape,
// scoped to the collection and environment it was extracted for. Used to
// write the persistent cache file.
func Format(cfg *models.Configuration, collectionID, environmentID string) ([]byte, error) {
	payload := models.ConfigPayload{
		Collections: []models.CollectionRef{{CollectionID: collectionID}},
		Environments: []models.EnvironmentData{{
			EnvironmentID: environmentID,
			Features:      cfg.Features,
			Properties:    cfg.Properties,
		}},
		Segments: cfg.Segments,
	}
	if payload.Environments[0].Features == nil {
		payload.Environments[0].Features = []models.Feature{}
	}
	if payload.Environments[0].Properties == nil {
		payload.Environments[0].Properties = []models.Property{}
	}
	if payload.Segments == nil {
		payload.Segments = []models.Segment{}
	}
	return json.Marshal(payload)
}

func hasCollection(refs []models.CollectionRef, id string) bool {
	for _, c := range refs {
		if c.CollectionID == id {
			return true
		}
	}
	return false
}

func inCollection(refs []models.CollectionRef, id string) bool {
	for _, c := range refs {
		if c.CollectionID == id {
			return true
		}
	}
	return false
}

func findEnvironment(envs []models.EnvironmentData, id string) *models.EnvironmentData {
	for i := range envs {
		if envs[i].EnvironmentID == id {
			return &envs[i]
		}
	}
	return nil
}

func collectSegmentIDs(rules []models.SegmentRule, into map[string]struct{}) {
	for _, entry := range rules {
		for _, group := range entry.Rules {
			for _, id := range group.Segments {
				into[id] = struct{}{}
			}
		}
	}
}
