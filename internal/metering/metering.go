// Package metering aggregates evaluation usage, experiment exposures and
// custom tracked events, and uploads them in batches on a timer. Recording
// is fire-and-forget: it never blocks an evaluation call and a failed
// upload is logged and dropped, never retried into the hot path.
package metering

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient/internal/engine"
	"github.com/TimurManjosov/goflagclient/internal/fetch"
)

const defaultFlushInterval = 10 * time.Minute

// Poster uploads one usage batch.
type Poster interface {
	PostUsage(ctx context.Context, batch fetch.UsageBatch) error
}

type usageKey struct {
	featureID  string
	propertyID string
	entityID   string
	segmentID  string
}

type exposureKey struct {
	experimentID  string
	iterationID   string
	featureID     string
	variationID   string
	entityID      string
	audienceGroup string
}

type trackKey struct {
	eventKey string
	entityID string
}

type tally struct {
	count    int
	lastSeen time.Time
}

// Recorder accumulates metering records between flushes.
type Recorder struct {
	poster        Poster
	collectionID  string
	environmentID string
	interval      time.Duration
	log           zerolog.Logger
	now           func() time.Time

	mu        sync.Mutex
	usage     map[usageKey]*tally
	exposures map[exposureKey]*tally
	tracked   map[trackKey]*tally
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithFlushInterval overrides the upload cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.interval = d }
}

func withClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(poster Poster, collectionID, environmentID string, log zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		poster:        poster,
		collectionID:  collectionID,
		environmentID: environmentID,
		interval:      defaultFlushInterval,
		log:           log.With().Str("component", "metering").Logger(),
		now:           time.Now,
		usage:         make(map[usageKey]*tally),
		exposures:     make(map[exposureKey]*tally),
		tracked:       make(map[trackKey]*tally),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record books one evaluation's side effects: the exposure event when an
// experiment variation was served, the usage record otherwise.
func (r *Recorder) Record(ev engine.Events) {
	switch {
	case ev.Exposure != nil:
		r.recordExposure(*ev.Exposure)
	case ev.Usage != nil:
		r.recordUsage(*ev.Usage)
	}
}

func (r *Recorder) recordUsage(ev engine.UsageEvent) {
	key := usageKey{
		featureID:  ev.FeatureID,
		propertyID: ev.PropertyID,
		entityID:   ev.EntityID,
		segmentID:  ev.SegmentID,
	}
	r.mu.Lock()
	bump(r.usage, key, r.now())
	r.mu.Unlock()
}

func (r *Recorder) recordExposure(ev engine.ExposureEvent) {
	key := exposureKey{
		experimentID:  ev.ExperimentID,
		iterationID:   ev.IterationID,
		featureID:     ev.FeatureID,
		variationID:   ev.VariationID,
		entityID:      ev.EntityID,
		audienceGroup: ev.AudienceGroup,
	}
	r.mu.Lock()
	bump(r.exposures, key, r.now())
	r.mu.Unlock()
}

// Track books one custom application event against an entity.
func (r *Recorder) Track(eventKey, entityID string) {
	r.mu.Lock()
	bump(r.tracked, trackKey{eventKey: eventKey, entityID: entityID}, r.now())
	r.mu.Unlock()
}

func bump[K comparable](m map[K]*tally, key K, now time.Time) {
	if t, ok := m[key]; ok {
		t.count++
		t.lastSeen = now
		return
	}
	m[key] = &tally{count: 1, lastSeen: now}
}

// Pending reports how many distinct records await upload.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.usage) + len(r.exposures) + len(r.tracked)
}

// Run flushes on the configured interval until ctx is cancelled, then
// flushes one final time with a short grace period.
func (r *Recorder) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.Flush(flushCtx)
			cancel()
			return
		case <-t.C:
			r.Flush(ctx)
		}
	}
}

type usageRecord struct {
	FeatureID      string `json:"feature_id,omitempty"`
	PropertyID     string `json:"property_id,omitempty"`
	EntityID       string `json:"entity_id"`
	SegmentID      string `json:"segment_id"`
	EvaluationTime string `json:"evaluation_time"`
	Count          int    `json:"count"`
}

type exposureRecord struct {
	FeatureID      string `json:"feature_id"`
	ExperimentID   string `json:"experiment_id"`
	IterationID    string `json:"iteration_id"`
	VariationID    string `json:"variation_id"`
	EntityID       string `json:"entity_id"`
	AudienceGroup  string `json:"audience_group"`
	EvaluationTime string `json:"evaluation_time"`
	Count          int    `json:"count"`
}

type trackRecord struct {
	EventKey       string `json:"event_key"`
	EntityID       string `json:"entity_id"`
	EvaluationTime string `json:"evaluation_time"`
	Count          int    `json:"count"`
}

// Flush drains the accumulated records and uploads them as one batch.
// Nothing pending is a no-op. Upload failures drop the batch.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	usage, exposures, tracked := r.usage, r.exposures, r.tracked
	r.usage = make(map[usageKey]*tally)
	r.exposures = make(map[exposureKey]*tally)
	r.tracked = make(map[trackKey]*tally)
	r.mu.Unlock()

	var usages []json.RawMessage
	for key, t := range usage {
		usages = appendRecord(usages, usageRecord{
			FeatureID:      key.featureID,
			PropertyID:     key.propertyID,
			EntityID:       key.entityID,
			SegmentID:      key.segmentID,
			EvaluationTime: t.lastSeen.UTC().Format(time.RFC3339),
			Count:          t.count,
		})
	}
	for key, t := range exposures {
		usages = appendRecord(usages, exposureRecord{
			FeatureID:      key.featureID,
			ExperimentID:   key.experimentID,
			IterationID:    key.iterationID,
			VariationID:    key.variationID,
			EntityID:       key.entityID,
			AudienceGroup:  key.audienceGroup,
			EvaluationTime: t.lastSeen.UTC().Format(time.RFC3339),
			Count:          t.count,
		})
	}
	for key, t := range tracked {
		usages = appendRecord(usages, trackRecord{
			EventKey:       key.eventKey,
			EntityID:       key.entityID,
			EvaluationTime: t.lastSeen.UTC().Format(time.RFC3339),
			Count:          t.count,
		})
	}
	if len(usages) == 0 {
		return
	}

	batch := fetch.UsageBatch{
		CollectionID:  r.collectionID,
		EnvironmentID: r.environmentID,
		Usages:        usages,
	}
	if err := r.poster.PostUsage(ctx, batch); err != nil {
		r.log.Warn().Err(err).Int("records", len(usages)).Msg("failed to upload metering batch, dropping it")
		return
	}
	r.log.Debug().Int("records", len(usages)).Msg("metering batch uploaded")
}

func appendRecord(usages []json.RawMessage, rec any) []json.RawMessage {
	data, err := json.Marshal(rec)
	if err != nil {
		return usages
	}
	return append(usages, json.RawMessage(data))
}
