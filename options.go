package goflagclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures a Client. Region, GUID and APIKey identify the
// service instance and are required unless ServiceURL overrides the
// endpoint entirely (GUID and APIKey stay required even then).
type Options struct {
	Region string
	GUID   string
	APIKey string

	// ServiceURL overrides the endpoint derived from Region. Intended for
	// tests and on-prem deployments.
	ServiceURL string

	// Logger receives the SDK's structured logs. The zero value discards
	// them.
	Logger zerolog.Logger
}

// Validate checks the options eagerly so a misconfigured client fails at
// construction, not at first use.
func (o Options) Validate() error {
	if o.Region == "" && o.ServiceURL == "" {
		return fmt.Errorf("%w: region is required", ErrConfiguration)
	}
	if o.GUID == "" {
		return fmt.Errorf("%w: guid is required", ErrConfiguration)
	}
	if o.APIKey == "" {
		return fmt.Errorf("%w: apikey is required", ErrConfiguration)
	}
	if o.ServiceURL != "" {
		if _, err := url.Parse(o.ServiceURL); err != nil {
			return fmt.Errorf("%w: invalid service URL: %v", ErrConfiguration, err)
		}
	}
	return nil
}

func (o Options) serviceURL() string {
	if o.ServiceURL != "" {
		return strings.TrimSuffix(o.ServiceURL, "/")
	}
	return "https://" + o.Region + ".apprapp.cloud.ibm.com"
}

func (o Options) websocketURL(collectionID, environmentID string) string {
	base := o.serviceURL()
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	q := url.Values{}
	q.Set("instance_id", o.GUID)
	q.Set("collection_id", collectionID)
	q.Set("environment_id", environmentID)
	return base + "/apprapp/wsfeature?" + q.Encode()
}

// ContextOptions tune SetContext. The zero value means: no persistent
// cache, no bootstrap file, live updates enabled.
type ContextOptions struct {
	// PersistentCacheDirectory, when set, caches the configuration on disk
	// so restarts can serve data before the first fetch completes.
	PersistentCacheDirectory string

	// BootstrapFile seeds the cache from a local configuration file.
	// Required when live updates are disabled.
	BootstrapFile string

	// LiveUpdateEnabled controls remote fetching and the live-update
	// channel. nil means enabled.
	LiveUpdateEnabled *bool
}

func (o ContextOptions) liveUpdate() bool {
	return o.LiveUpdateEnabled == nil || *o.LiveUpdateEnabled
}

// Bool is a convenience for ContextOptions.LiveUpdateEnabled.
func Bool(b bool) *bool { return &b }
