// Package config loads the sidecar daemon's configuration from environment
// variables and an optional .env file. It uses viper; environment variables
// take precedence over .env values, which take precedence over defaults.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds everything the sidecar needs to construct the SDK client
// and serve HTTP.
type Config struct {
	Region        string // Service region (e.g., "us-south")
	GUID          string // Service instance GUID
	APIKey        string // Service API key
	ServiceURL    string // Optional endpoint override (testing / on-prem)
	CollectionID  string // Collection to serve
	EnvironmentID string // Environment to serve

	HTTPAddr           string // HTTP bind address (e.g., ":8050")
	BootstrapFile      string // Optional local configuration file
	PersistentCacheDir string // Optional on-disk cache directory
	LiveUpdate         bool   // Remote fetch + live-update channel
	LogLevel           string // zerolog level name (debug, info, warn, error)
}

// Load reads the configuration. It does not validate; call Validate to
// fail fast at startup.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env") // optional; ignored when absent
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	setDefaults(v)

	return &Config{
		Region:             v.GetString("APPCONFIG_REGION"),
		GUID:               v.GetString("APPCONFIG_GUID"),
		APIKey:             v.GetString("APPCONFIG_APIKEY"),
		ServiceURL:         v.GetString("APPCONFIG_SERVICE_URL"),
		CollectionID:       v.GetString("APPCONFIG_COLLECTION_ID"),
		EnvironmentID:      v.GetString("APPCONFIG_ENVIRONMENT_ID"),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		BootstrapFile:      v.GetString("BOOTSTRAP_FILE"),
		PersistentCacheDir: v.GetString("PERSISTENT_CACHE_DIR"),
		LiveUpdate:         v.GetBool("LIVE_UPDATE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8050")
	v.SetDefault("LIVE_UPDATE", true)
	v.SetDefault("LOG_LEVEL", "info")
}

// ValidationError reports the first configuration constraint that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

// Validate checks startup constraints:
//  1. Region or a service URL override must be set
//  2. GUID and APIKey are required
//  3. CollectionID and EnvironmentID are required
//  4. HTTPAddr must be non-empty
//  5. With live updates disabled, a bootstrap file is required
func (c *Config) Validate() error {
	if c.Region == "" && c.ServiceURL == "" {
		return ValidationError{Field: "APPCONFIG_REGION", Message: "region (or APPCONFIG_SERVICE_URL) is required"}
	}
	if c.GUID == "" {
		return ValidationError{Field: "APPCONFIG_GUID", Message: "service instance GUID is required"}
	}
	if c.APIKey == "" {
		return ValidationError{Field: "APPCONFIG_APIKEY", Message: "API key is required"}
	}
	if c.CollectionID == "" {
		return ValidationError{Field: "APPCONFIG_COLLECTION_ID", Message: "collection id is required"}
	}
	if c.EnvironmentID == "" {
		return ValidationError{Field: "APPCONFIG_ENVIRONMENT_ID", Message: "environment id is required"}
	}
	if c.HTTPAddr == "" {
		return ValidationError{Field: "HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}
	if !c.LiveUpdate && c.BootstrapFile == "" {
		return ValidationError{Field: "BOOTSTRAP_FILE", Message: "a bootstrap file is required when LIVE_UPDATE=false"}
	}
	return nil
}
