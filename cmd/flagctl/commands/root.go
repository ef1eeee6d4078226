package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagclient/internal/cache"
	"github.com/TimurManjosov/goflagclient/internal/extract"
)

var (
	// Global flags
	bootstrapFile string
	collectionID  string
	environmentID string
	format        string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagctl",
	Short: "CLI tool for inspecting and evaluating feature flag configurations",
	Long: `Flagctl evaluates feature flags and properties offline from a local
configuration file, using the same evaluation engine as the SDK.

Examples:
  flagctl list --file bootstrap.json --collection web-app --environment dev
  flagctl list --properties --file bootstrap.json --collection web-app --environment dev
  flagctl evaluate dark-mode --entity user-1 --attr email=alice@ibm.com
  flagctl evaluate age-limit --property --entity user-1 --watch`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&bootstrapFile, "file", "", "Path to the configuration file (required)")
	rootCmd.PersistentFlags().StringVar(&collectionID, "collection", "", "Collection id (required)")
	rootCmd.PersistentFlags().StringVar(&environmentID, "environment", "", "Environment id (required)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.MarkPersistentFlagRequired("file")
	rootCmd.MarkPersistentFlagRequired("collection")
	rootCmd.MarkPersistentFlagRequired("environment")
}

// loadSnapshot reads, validates and indexes the configuration file.
func loadSnapshot() (*cache.Snapshot, error) {
	data, err := os.ReadFile(bootstrapFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", bootstrapFile, err)
	}
	payload, err := extract.Parse(data)
	if err != nil {
		return nil, err
	}
	cfg, err := extract.Extract(payload, collectionID, environmentID)
	if err != nil {
		return nil, err
	}
	return cache.Build(cfg), nil
}
