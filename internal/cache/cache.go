// Package cache holds the in-memory configuration the SDK evaluates
// against. A load builds a complete new snapshot and swaps it in
// atomically; readers never observe a partially updated cache, and an
// evaluation that grabbed a snapshot keeps seeing it even while a swap
// happens underneath.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimurManjosov/goflagclient/models"
)

// Snapshot is one immutable view of the loaded configuration.
type Snapshot struct {
	ETag       string
	Features   map[string]*models.Feature
	Properties map[string]*models.Property
	Segments   map[string]*models.Segment
	UpdatedAt  time.Time

	// rawFeatures keeps definition order for listing and for experiment
	// tracking, which needs the full feature list rather than the map.
	rawFeatures   []models.Feature
	rawProperties []models.Property
}

// FeatureList returns the features in definition order.
func (s *Snapshot) FeatureList() []models.Feature { return s.rawFeatures }

// PropertyList returns the properties in definition order.
func (s *Snapshot) PropertyList() []models.Property { return s.rawProperties }

// Segment implements the segment lookup the evaluation engine consumes.
func (s *Snapshot) Segment(id string) (*models.Segment, bool) {
	seg, ok := s.Segments[id]
	return seg, ok
}

// Build constructs a snapshot from an extracted configuration. The ETag is
// a content hash, so reloading identical data produces the same tag and
// subscribers can cheaply detect no-op updates.
func Build(cfg *models.Configuration) *Snapshot {
	s := &Snapshot{
		Features:      make(map[string]*models.Feature, len(cfg.Features)),
		Properties:    make(map[string]*models.Property, len(cfg.Properties)),
		Segments:      make(map[string]*models.Segment, len(cfg.Segments)),
		UpdatedAt:     time.Now().UTC(),
		rawFeatures:   cfg.Features,
		rawProperties: cfg.Properties,
	}
	for i := range cfg.Features {
		f := &cfg.Features[i]
		s.Features[f.FeatureID] = f
	}
	for i := range cfg.Properties {
		p := &cfg.Properties[i]
		s.Properties[p.PropertyID] = p
	}
	for i := range cfg.Segments {
		seg := &cfg.Segments[i]
		s.Segments[seg.SegmentID] = seg
	}

	blob, _ := json.Marshal(cfg)
	sum := sha256.Sum256(blob)
	s.ETag = hex.EncodeToString(sum[:])
	return s
}

// Cache is the long-lived holder of the current snapshot. It is constructed
// once per client and handed to every consumer; there is no process-wide
// instance.
type Cache struct {
	current atomic.Pointer[Snapshot]

	mu   sync.Mutex
	subs map[chan string]struct{}
}

func New() *Cache {
	return &Cache{subs: make(map[chan string]struct{})}
}

// Current returns the live snapshot, or nil before the first load.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Replace swaps in a new snapshot and notifies subscribers with its ETag.
func (c *Cache) Replace(s *Snapshot) {
	c.current.Store(s)
	c.publish(s.ETag)
}

// Subscribe registers an update listener. The channel carries the ETag of
// each newly installed snapshot; slow listeners miss intermediate updates
// rather than blocking the swap. The returned func unsubscribes and closes
// the channel.
func (c *Cache) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	unsub := func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, unsub
}

func (c *Cache) publish(etag string) {
	c.mu.Lock()
	for ch := range c.subs {
		select {
		case ch <- etag:
		default:
		}
	}
	c.mu.Unlock()
}
