package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagclient/internal/cache"
	"github.com/TimurManjosov/goflagclient/internal/connectivity"
	"github.com/TimurManjosov/goflagclient/internal/persist"
	"github.com/TimurManjosov/goflagclient/internal/stream"
	"github.com/TimurManjosov/goflagclient/models"
)

func payload(marker string) *models.ConfigPayload {
	return &models.ConfigPayload{
		Collections: []models.CollectionRef{{CollectionID: "web-app"}},
		Environments: []models.EnvironmentData{{
			EnvironmentID: "dev",
			Features: []models.Feature{{
				Name:          marker,
				FeatureID:     "f1",
				Type:          models.TypeBoolean,
				Enabled:       true,
				EnabledValue:  true,
				DisabledValue: false,
				Collections:   []models.CollectionRef{{CollectionID: "web-app"}},
			}},
			Properties: []models.Property{},
		}},
		Segments: []models.Segment{},
	}
}

func payloadJSON(marker string) []byte {
	data, _ := json.Marshal(payload(marker))
	return data
}

type fakeFetcher struct {
	mu      sync.Mutex
	payload *models.ConfigPayload
	err     error
	calls   int
}

func (f *fakeFetcher) Config(context.Context, string, string) (*models.ConfigPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func (f *fakeFetcher) set(p *models.ConfigPayload, err error) {
	f.mu.Lock()
	f.payload, f.err = p, err
	f.mu.Unlock()
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChannel struct {
	signals    chan struct{}
	state      atomic.Int32
	reconnects atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{signals: make(chan struct{}, 1)}
}

func (c *fakeChannel) Run(ctx context.Context) { <-ctx.Done() }
func (c *fakeChannel) Signals() <-chan struct{} {
	return c.signals
}
func (c *fakeChannel) State() stream.State { return stream.State(c.state.Load()) }
func (c *fakeChannel) Reconnect()          { c.reconnects.Add(1) }
func (c *fakeChannel) Close() error        { return nil }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func featureName(c *cache.Cache) string {
	snap := c.Current()
	if snap == nil {
		return ""
	}
	f, ok := snap.Features["f1"]
	if !ok {
		return ""
	}
	return f.Name
}

func quietProbe() []connectivity.Option {
	return []connectivity.Option{
		connectivity.WithInterval(time.Hour),
		connectivity.WithCheckFunc(func(context.Context) bool { return true }),
	}
}

func TestStart_BootstrapOnly(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bootstrap.json")
	if err := os.WriteFile(file, payloadJSON("from-bootstrap"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := cache.New()
	r := New(Config{
		CollectionID:  "web-app",
		EnvironmentID: "dev",
		BootstrapFile: file,
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if featureName(c) != "from-bootstrap" {
		t.Fatalf("feature name = %q", featureName(c))
	}
}

func TestStart_BadBootstrapOfflineIsFatal(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bootstrap.json")
	if err := os.WriteFile(file, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(Config{CollectionID: "web-app", EnvironmentID: "dev", BootstrapFile: file}, cache.New(), zerolog.Nop())
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("malformed bootstrap without live updates must fail")
	}
}

func TestStart_NoSource(t *testing.T) {
	r := New(Config{CollectionID: "web-app", EnvironmentID: "dev"}, cache.New(), zerolog.Nop())
	err := r.Start(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestStart_FetchReplacesBootstrap(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bootstrap.json")
	os.WriteFile(file, payloadJSON("from-bootstrap"), 0o644)

	fetcher := &fakeFetcher{payload: payload("from-fetch")}
	c := cache.New()
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		BootstrapFile:     file,
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		ProbeOptions:      quietProbe(),
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if featureName(c) != "from-fetch" {
		t.Fatalf("fetch must replace bootstrap data, got %q", featureName(c))
	}
}

func TestStart_FetchFailureFallsBackAndRetries(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bootstrap.json")
	os.WriteFile(file, payloadJSON("from-bootstrap"), 0o644)

	fetcher := &fakeFetcher{err: errors.New("service down")}
	c := cache.New()
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		BootstrapFile:     file,
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		RetryInterval:     20 * time.Millisecond,
		ProbeOptions:      quietProbe(),
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("fetch failure with bootstrap data must not be fatal: %v", err)
	}
	if featureName(c) != "from-bootstrap" {
		t.Fatalf("must keep serving bootstrap data, got %q", featureName(c))
	}

	fetcher.set(payload("from-retry"), nil)
	waitFor(t, func() bool { return featureName(c) == "from-retry" })
}

func TestStart_FetchFailureNoFallbackIsFatal(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("service down")}
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		ProbeOptions:      quietProbe(),
	}, cache.New(), zerolog.Nop())

	err := r.Start(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestStart_PersistedPreferredOverBootstrap(t *testing.T) {
	persistDir := t.TempDir()
	store := persist.NewStore(persistDir)
	if err := store.Write(payloadJSON("from-disk")); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(t.TempDir(), "bootstrap.json")
	os.WriteFile(file, payloadJSON("from-bootstrap"), 0o644)

	c := cache.New()
	r := New(Config{
		CollectionID:  "web-app",
		EnvironmentID: "dev",
		PersistentDir: persistDir,
		BootstrapFile: file,
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if featureName(c) != "from-disk" {
		t.Fatalf("persisted data must win, got %q", featureName(c))
	}
}

func TestFetch_WritesPersistentCache(t *testing.T) {
	persistDir := t.TempDir()
	fetcher := &fakeFetcher{payload: payload("from-fetch")}
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		PersistentDir:     persistDir,
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		ProbeOptions:      quietProbe(),
	}, cache.New(), zerolog.Nop())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store := persist.NewStore(persistDir)
	waitFor(t, func() bool {
		data, _ := store.Read()
		return data != nil
	})

	// Close clears the persisted state.
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if data, _ := store.Read(); data != nil {
		t.Fatal("Close must delete the persisted configuration")
	}
}

// gatedFetcher fails the first call, then blocks until released. It
// ignores context cancellation so the fetch can complete while a Close is
// in progress.
type gatedFetcher struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (f *gatedFetcher) Config(context.Context, string, string) (*models.ConfigPayload, error) {
	if f.calls.Add(1) == 1 {
		return nil, errors.New("service down")
	}
	f.entered <- struct{}{}
	<-f.release
	return payload("late"), nil
}

func TestClose_WaitsForInFlightRetry(t *testing.T) {
	persistDir := t.TempDir()
	file := filepath.Join(t.TempDir(), "bootstrap.json")
	os.WriteFile(file, payloadJSON("from-bootstrap"), 0o644)

	fetcher := &gatedFetcher{entered: make(chan struct{}), release: make(chan struct{})}
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		PersistentDir:     persistDir,
		BootstrapFile:     file,
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		RetryInterval:     10 * time.Millisecond,
		ProbeOptions:      quietProbe(),
	}, cache.New(), zerolog.Nop())

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-fetcher.entered

	closed := make(chan error, 1)
	go func() { closed <- r.Close() }()
	close(fetcher.release)

	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	store := persist.NewStore(persistDir)
	if data, _ := store.Read(); data != nil {
		t.Fatal("Close must wait for the in-flight retry before deleting persisted state")
	}
}

func TestChangeSignalTriggersRefetch(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{payload: payload("v1")}
	c := cache.New()
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		Channel:           ch,
		ProbeOptions:      quietProbe(),
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return featureName(c) == "v1" })

	fetcher.set(payload("v2"), nil)
	ch.signals <- struct{}{}
	waitFor(t, func() bool { return featureName(c) == "v2" })
}

func TestConnectivityRestoreRefetchesAndReopens(t *testing.T) {
	ch := newFakeChannel()
	fetcher := &fakeFetcher{payload: payload("v1")}
	var reachable atomic.Bool
	reachable.Store(true)

	c := cache.New()
	r := New(Config{
		CollectionID:      "web-app",
		EnvironmentID:     "dev",
		LiveUpdateEnabled: true,
		Fetcher:           fetcher,
		Channel:           ch,
		ProbeOptions: []connectivity.Option{
			connectivity.WithInterval(5 * time.Millisecond),
			connectivity.WithCheckFunc(func(context.Context) bool { return reachable.Load() }),
		},
	}, c, zerolog.Nop())
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	calls := fetcher.callCount()

	reachable.Store(false)
	time.Sleep(30 * time.Millisecond)
	reachable.Store(true)

	waitFor(t, func() bool { return fetcher.callCount() > calls && ch.reconnects.Load() > 0 })
}

func TestConnected(t *testing.T) {
	ch := newFakeChannel()
	r := New(Config{Channel: ch}, cache.New(), zerolog.Nop())
	if r.Connected() {
		t.Fatal("not connected before the channel is up")
	}
	ch.state.Store(int32(stream.Connected))
	if !r.Connected() {
		t.Fatal("Connected must reflect channel state")
	}

	noChannel := New(Config{}, cache.New(), zerolog.Nop())
	if noChannel.Connected() {
		t.Fatal("no channel means not connected")
	}
}
