// Package goflagclient is a client SDK for a feature-flag and remote
// configuration service. It keeps an in-memory copy of one collection and
// environment's configuration, kept fresh over a live-update channel, and
// evaluates feature flags and properties locally against entity
// attributes. Evaluation never blocks on the network.
package goflagclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient/internal/cache"
	"github.com/TimurManjosov/goflagclient/internal/engine"
	"github.com/TimurManjosov/goflagclient/internal/fetch"
	"github.com/TimurManjosov/goflagclient/internal/metering"
	"github.com/TimurManjosov/goflagclient/internal/reconcile"
	"github.com/TimurManjosov/goflagclient/internal/stream"
	"github.com/TimurManjosov/goflagclient/internal/telemetry"
	"github.com/TimurManjosov/goflagclient/models"
)

// SecretStore resolves secret references for SECRETREF-typed properties.
type SecretStore interface {
	Secret(ctx context.Context, id string) (any, error)
}

// Client is the SDK entry point. Construct one with New, call SetContext
// once (or again to switch collection/environment), then evaluate.
// All methods are safe for concurrent use.
type Client struct {
	opts Options
	log  zerolog.Logger

	cache *cache.Cache

	mu            sync.Mutex
	collectionID  string
	environmentID string
	reconciler    *reconcile.Reconciler
	recorder      *metering.Recorder
	stopRecorder  context.CancelFunc
	watchers      map[int]func()
	nextWatcher   int
	closed        bool
}

// New validates the options and builds a client. No I/O happens until
// SetContext.
func New(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		opts:     opts,
		log:      opts.Logger.With().Str("sdk", "goflagclient").Logger(),
		cache:    cache.New(),
		watchers: make(map[int]func()),
	}, nil
}

// SetContext selects the collection and environment to serve and populates
// the cache per the source precedence: persisted data, then the bootstrap
// file, then a remote fetch when live updates are enabled. Calling it
// again tears the previous context down first (including its persisted
// state).
func (c *Client) SetContext(ctx context.Context, collectionID, environmentID string, copts ContextOptions) error {
	if collectionID == "" {
		return fmt.Errorf("%w: collection id is required", ErrConfiguration)
	}
	if environmentID == "" {
		return fmt.Errorf("%w: environment id is required", ErrConfiguration)
	}
	if !copts.liveUpdate() && copts.BootstrapFile == "" {
		return fmt.Errorf("%w: a bootstrap file is required when live updates are disabled", ErrConfiguration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: client is closed", ErrConfiguration)
	}
	c.teardownLocked()

	fetcher := fetch.NewClient(c.opts.serviceURL(), c.opts.APIKey, c.opts.GUID, c.log)

	cfg := reconcile.Config{
		CollectionID:      collectionID,
		EnvironmentID:     environmentID,
		PersistentDir:     copts.PersistentCacheDirectory,
		BootstrapFile:     copts.BootstrapFile,
		LiveUpdateEnabled: copts.liveUpdate(),
		Fetcher:           fetcher,
	}
	if copts.liveUpdate() {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
		cfg.Channel = stream.NewChannel(c.opts.websocketURL(collectionID, environmentID), header, c.log,
			stream.WithStateListener(func(s stream.State) {
				telemetry.StreamState.Set(float64(s))
			}))
	}

	rec := reconcile.New(cfg, c.cache, c.log)
	if err := rec.Start(ctx); err != nil {
		rec.Close()
		return err
	}

	c.reconciler = rec
	c.collectionID = collectionID
	c.environmentID = environmentID

	c.recorder = metering.NewRecorder(fetcher, collectionID, environmentID, c.log)
	recCtx, cancel := context.WithCancel(context.Background())
	c.stopRecorder = cancel
	go c.recorder.Run(recCtx)

	return nil
}

// GetFeature returns the current definition of one feature flag.
func (c *Client) GetFeature(featureID string) (*models.Feature, error) {
	snap := c.cache.Current()
	if snap == nil {
		return nil, ErrNoContext
	}
	f, ok := snap.Features[featureID]
	if !ok {
		return nil, fmt.Errorf("%w: feature %q", ErrNotFound, featureID)
	}
	return f, nil
}

// GetFeatures returns all feature flags in definition order.
func (c *Client) GetFeatures() ([]models.Feature, error) {
	snap := c.cache.Current()
	if snap == nil {
		return nil, ErrNoContext
	}
	return snap.FeatureList(), nil
}

// GetProperty returns the current definition of one property.
func (c *Client) GetProperty(propertyID string) (*models.Property, error) {
	snap := c.cache.Current()
	if snap == nil {
		return nil, ErrNoContext
	}
	p, ok := snap.Properties[propertyID]
	if !ok {
		return nil, fmt.Errorf("%w: property %q", ErrNotFound, propertyID)
	}
	return p, nil
}

// GetProperties returns all properties in definition order.
func (c *Client) GetProperties() ([]models.Property, error) {
	snap := c.cache.Current()
	if snap == nil {
		return nil, ErrNoContext
	}
	return snap.PropertyList(), nil
}

// EvaluateFeature evaluates one feature flag for an entity. The result is
// total: data-shape problems surface as an ERROR-kind result, never a
// panic. The error return covers only missing context, an unknown id or a
// missing entity id.
func (c *Client) EvaluateFeature(featureID, entityID string, attrs models.Attributes) (models.FeatureResult, error) {
	if entityID == "" {
		return models.FeatureResult{}, fmt.Errorf("%w: entity id is required", ErrConfiguration)
	}
	snap := c.cache.Current()
	if snap == nil {
		return models.FeatureResult{}, ErrNoContext
	}
	f, ok := snap.Features[featureID]
	if !ok {
		return models.FeatureResult{}, fmt.Errorf("%w: feature %q", ErrNotFound, featureID)
	}

	res, events := engine.EvaluateFeature(f, entityID, attrs, snap)
	telemetry.Evaluations.WithLabelValues("feature", string(res.Details.ValueKind)).Inc()
	c.dispatch(events)
	return res, nil
}

// EvaluateProperty evaluates one property for an entity.
func (c *Client) EvaluateProperty(propertyID, entityID string, attrs models.Attributes) (models.PropertyResult, error) {
	if entityID == "" {
		return models.PropertyResult{}, fmt.Errorf("%w: entity id is required", ErrConfiguration)
	}
	snap := c.cache.Current()
	if snap == nil {
		return models.PropertyResult{}, ErrNoContext
	}
	p, ok := snap.Properties[propertyID]
	if !ok {
		return models.PropertyResult{}, fmt.Errorf("%w: property %q", ErrNotFound, propertyID)
	}

	res, events := engine.EvaluateProperty(p, entityID, attrs, snap)
	telemetry.Evaluations.WithLabelValues("property", string(res.Details.ValueKind)).Inc()
	c.dispatch(events)
	return res, nil
}

// GetSecret resolves a SECRETREF property: the property evaluates to a
// secret id, which is handed to the caller's store. The SDK never sees or
// caches the secret material beyond returning it.
func (c *Client) GetSecret(ctx context.Context, propertyID, entityID string, attrs models.Attributes, store SecretStore) (any, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: secret store is required", ErrConfiguration)
	}
	p, err := c.GetProperty(propertyID)
	if err != nil {
		return nil, err
	}
	if p.Type != models.TypeSecretRef {
		return nil, fmt.Errorf("%w: property %q is %s, not %s", ErrConfiguration, propertyID, p.Type, models.TypeSecretRef)
	}
	res, err := c.EvaluateProperty(propertyID, entityID, attrs)
	if err != nil {
		return nil, err
	}
	id, ok := res.Value.(string)
	if !ok {
		return nil, fmt.Errorf("property %q did not evaluate to a secret id", propertyID)
	}
	return store.Secret(ctx, id)
}

// Track books a custom application event (a conversion, say) against an
// entity, attributed by the metering backend to any running experiment the
// entity was exposed to. Fire-and-forget.
func (c *Client) Track(eventKey, entityID string) {
	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		rec.Track(eventKey, entityID)
	}
}

// OnConfigurationUpdate invokes fn after every cache update until the
// returned func is called or the client closes. fn runs on its own
// goroutine; slow callbacks coalesce updates rather than queueing them.
func (c *Client) OnConfigurationUpdate(fn func()) func() {
	ch, unsub := c.cache.Subscribe()
	go func() {
		for range ch {
			fn()
		}
	}()

	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = unsub
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		f, ok := c.watchers[id]
		delete(c.watchers, id)
		c.mu.Unlock()
		if ok {
			f()
		}
	}
}

// IsConnected reports whether the live-update channel is currently up.
// False when live updates are disabled.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconciler != nil && c.reconciler.Connected()
}

// Close stops all background work, flushes pending metering records and
// clears persisted state. The client cannot be reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.teardownLocked()
	for id, unsub := range c.watchers {
		delete(c.watchers, id)
		unsub()
	}
	return nil
}

func (c *Client) teardownLocked() {
	if c.stopRecorder != nil {
		c.stopRecorder()
		c.stopRecorder = nil
		c.recorder = nil
	}
	if c.reconciler != nil {
		if err := c.reconciler.Close(); err != nil {
			c.log.Error().Err(err).Msg("failed to tear down configuration source")
		}
		c.reconciler = nil
	}
}

func (c *Client) dispatch(events engine.Events) {
	c.mu.Lock()
	rec := c.recorder
	c.mu.Unlock()
	if rec != nil {
		rec.Record(events)
	}
}
