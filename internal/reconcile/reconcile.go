// Package reconcile populates and maintains the configuration cache from
// its three sources: the persistent cache file, the bootstrap file and the
// remote service. It owns every background task the SDK runs: the fetch
// retry timer, the live-update channel and the connectivity probe, and
// tears all of them down deterministically on Close.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient/internal/cache"
	"github.com/TimurManjosov/goflagclient/internal/connectivity"
	"github.com/TimurManjosov/goflagclient/internal/extract"
	"github.com/TimurManjosov/goflagclient/internal/persist"
	"github.com/TimurManjosov/goflagclient/internal/stream"
	"github.com/TimurManjosov/goflagclient/internal/telemetry"
	"github.com/TimurManjosov/goflagclient/models"
)

// ErrSourceUnavailable means no data source could populate the cache at
// all: nothing persisted, no usable bootstrap data and the remote fetch
// failed (or was disabled).
var ErrSourceUnavailable = errors.New("no configuration source available")

const defaultRetryInterval = 2 * time.Minute

// Fetcher downloads the remote configuration document.
type Fetcher interface {
	Config(ctx context.Context, collectionID, environmentID string) (*models.ConfigPayload, error)
}

// Channel is the live-update subscription the reconciler drives.
type Channel interface {
	Run(ctx context.Context)
	Signals() <-chan struct{}
	State() stream.State
	Reconnect()
	Close() error
}

// Config wires one reconciler.
type Config struct {
	CollectionID  string
	EnvironmentID string

	// PersistentDir enables the on-disk cache when non-empty.
	PersistentDir string
	// BootstrapFile seeds the cache from a local file when non-empty.
	BootstrapFile string
	// LiveUpdateEnabled turns the remote fetch + live channel on.
	LiveUpdateEnabled bool

	Fetcher Fetcher
	Channel Channel

	// RetryInterval is the delay before re-attempting a failed fetch.
	RetryInterval time.Duration
	// ProbeOptions customize the connectivity probe (tests shrink the
	// interval and stub the check).
	ProbeOptions []connectivity.Option
}

// Reconciler drives one set-context lifecycle.
type Reconciler struct {
	cfg   Config
	cache *cache.Cache
	store *persist.Store
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	retryTimer *time.Timer
}

func New(cfg Config, c *cache.Cache, log zerolog.Logger) *Reconciler {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	r := &Reconciler{
		cfg:   cfg,
		cache: c,
		log:   log.With().Str("component", "reconcile").Logger(),
	}
	if cfg.PersistentDir != "" {
		r.store = persist.NewStore(cfg.PersistentDir)
	}
	return r
}

// Start populates the cache and launches the background machinery.
//
// Source precedence: persisted data loads first (synchronously, so the
// cache is never empty while a fetch is pending), then the bootstrap file
// if nothing was persisted, then one remote fetch when live updates are
// enabled. A failed fetch falls back to whatever local data loaded and
// schedules a retry; with no local data at all it is ErrSourceUnavailable.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	loaded := false
	if r.store != nil {
		if err := r.store.CheckWritable(); err != nil {
			r.log.Error().Err(err).Msg("persistent cache directory check failed")
		}
		loaded = r.loadPersisted()
	}
	if !loaded && r.cfg.BootstrapFile != "" {
		ok, err := r.loadBootstrap()
		if err != nil && !r.cfg.LiveUpdateEnabled {
			r.cancel()
			return err
		}
		if err != nil {
			r.log.Error().Err(err).Msg("bootstrap load failed, falling back to remote fetch")
		}
		loaded = loaded || ok
	}

	if !r.cfg.LiveUpdateEnabled {
		if r.cache.Current() == nil {
			r.cancel()
			return ErrSourceUnavailable
		}
		return nil
	}

	if err := r.fetchAndUpdate(ctx); err != nil {
		if r.cache.Current() == nil {
			r.cancel()
			return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		r.log.Warn().Err(err).Msg("remote fetch failed, serving local data and retrying")
		r.scheduleRetry()
	}

	if r.cfg.Channel != nil {
		r.wg.Add(2)
		go func() {
			defer r.wg.Done()
			r.cfg.Channel.Run(r.ctx)
		}()
		go func() {
			defer r.wg.Done()
			r.watchSignals()
		}()
	}

	probe := connectivity.NewProbe(r.onConnectivityRestored, r.log, r.cfg.ProbeOptions...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		probe.Run(r.ctx)
	}()

	return nil
}

// Connected reports whether the live-update channel is currently up.
func (r *Reconciler) Connected() bool {
	return r.cfg.Channel != nil && r.cfg.Channel.State() == stream.Connected
}

// Close stops the probe, the channel and any pending retry, waits for the
// background tasks, and clears the persisted state.
func (r *Reconciler) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	r.mu.Unlock()

	if r.cfg.Channel != nil {
		r.cfg.Channel.Close()
	}
	r.wg.Wait()

	if r.store != nil {
		if err := r.store.Delete(); err != nil {
			return fmt.Errorf("failed to clear persisted configuration: %w", err)
		}
	}
	return nil
}

// loadPersisted reads the on-disk cache. Any failure just means starting
// cold; the file gets rewritten on the next successful fetch.
func (r *Reconciler) loadPersisted() bool {
	data, err := r.store.Read()
	if err != nil {
		r.log.Error().Err(err).Msg("failed to read persistent cache")
		return false
	}
	if data == nil {
		return false
	}
	cfg, err := r.extractPayload(data)
	if err != nil {
		r.log.Error().Err(err).Msg("persisted configuration is invalid, ignoring it")
		return false
	}
	r.install(cfg)
	r.log.Debug().Msg("configuration loaded from persistent cache")
	return true
}

func (r *Reconciler) loadBootstrap() (bool, error) {
	data, err := os.ReadFile(r.cfg.BootstrapFile)
	if err != nil {
		return false, fmt.Errorf("failed to read bootstrap file: %w", err)
	}
	cfg, err := r.extractPayload(data)
	if err != nil {
		return false, err
	}
	r.install(cfg)
	r.log.Debug().Str("file", r.cfg.BootstrapFile).Msg("configuration loaded from bootstrap file")

	// Seed the persistent cache so the next start works even if this
	// process never completes a fetch.
	if r.store != nil {
		r.persistConfiguration(cfg)
	}
	return true, nil
}

// fetchAndUpdate downloads, validates and installs a fresh configuration,
// then persists it in the background.
func (r *Reconciler) fetchAndUpdate(ctx context.Context) error {
	payload, err := r.cfg.Fetcher.Config(ctx, r.cfg.CollectionID, r.cfg.EnvironmentID)
	if err != nil {
		telemetry.ConfigFetches.WithLabelValues("error").Inc()
		return err
	}
	cfg, err := extract.Extract(payload, r.cfg.CollectionID, r.cfg.EnvironmentID)
	if err != nil {
		telemetry.ConfigFetches.WithLabelValues("invalid").Inc()
		return err
	}
	telemetry.ConfigFetches.WithLabelValues("success").Inc()
	r.install(cfg)
	r.log.Debug().Int("features", len(cfg.Features)).Int("properties", len(cfg.Properties)).Msg("configuration fetched")

	if r.store != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.persistConfiguration(cfg)
		}()
	}
	return nil
}

func (r *Reconciler) install(cfg *models.Configuration) {
	snap := cache.Build(cfg)
	r.cache.Replace(snap)
	telemetry.CachedFeatures.Set(float64(len(snap.Features)))
	telemetry.CachedProperties.Set(float64(len(snap.Properties)))
}

func (r *Reconciler) extractPayload(data []byte) (*models.Configuration, error) {
	payload, err := extract.Parse(data)
	if err != nil {
		return nil, err
	}
	return extract.Extract(payload, r.cfg.CollectionID, r.cfg.EnvironmentID)
}

// persistConfiguration writes the current configuration to disk. Failures
// are logged and dropped; the in-memory cache stays authoritative.
func (r *Reconciler) persistConfiguration(cfg *models.Configuration) {
	data, err := extract.Format(cfg, r.cfg.CollectionID, r.cfg.EnvironmentID)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to encode configuration for persistence")
		return
	}
	if err := r.store.Write(data); err != nil {
		r.log.Error().Err(err).Msg("failed to persist configuration")
	}
}

// scheduleRetry arms (or re-arms) the fetch retry timer.
func (r *Reconciler) scheduleRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return
	}
	if r.retryTimer != nil {
		r.retryTimer.Stop()
	}
	r.retryTimer = time.AfterFunc(r.cfg.RetryInterval, func() {
		// Join the WaitGroup under the lock: Close cancels the context
		// before taking it, so the callback either observes the
		// cancellation here or is counted before Close starts waiting.
		r.mu.Lock()
		if r.ctx.Err() != nil {
			r.mu.Unlock()
			return
		}
		r.wg.Add(1)
		r.mu.Unlock()
		defer r.wg.Done()

		if err := r.fetchAndUpdate(r.ctx); err != nil {
			r.log.Warn().Err(err).Msg("retry fetch failed")
			r.scheduleRetry()
		}
	})
}

// watchSignals re-fetches on every live-update notification.
func (r *Reconciler) watchSignals() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case _, ok := <-r.cfg.Channel.Signals():
			if !ok {
				return
			}
			if err := r.fetchAndUpdate(r.ctx); err != nil {
				r.log.Warn().Err(err).Msg("fetch after change signal failed")
				r.scheduleRetry()
			}
		}
	}
}

// onConnectivityRestored re-fetches and reopens the channel when the
// network comes back.
func (r *Reconciler) onConnectivityRestored() {
	if err := r.fetchAndUpdate(r.ctx); err != nil {
		r.log.Warn().Err(err).Msg("fetch after connectivity restore failed")
		r.scheduleRetry()
	}
	if r.cfg.Channel != nil {
		r.cfg.Channel.Reconnect()
	}
}
