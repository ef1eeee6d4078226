package models

// CollectionRef names a collection a feature or property is assigned to.
type CollectionRef struct {
	CollectionID string `json:"collection_id"`
}

// EnvironmentData carries the features and properties of one environment.
type EnvironmentData struct {
	EnvironmentID string     `json:"environment_id"`
	Features      []Feature  `json:"features"`
	Properties    []Property `json:"properties"`
}

// ConfigPayload is the JSON document shared by the remote config endpoint,
// the persistent cache file and bootstrap files.
type ConfigPayload struct {
	Collections  []CollectionRef   `json:"collections,omitempty"`
	Environments []EnvironmentData `json:"environments"`
	Segments     []Segment         `json:"segments"`
}

// Configuration is the extracted, validated slice of a payload scoped to
// one collection and environment. This is what gets loaded into the cache.
type Configuration struct {
	Features   []Feature  `json:"features"`
	Properties []Property `json:"properties"`
	Segments   []Segment  `json:"segments"`
}
