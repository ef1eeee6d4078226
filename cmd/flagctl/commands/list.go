package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagclient/internal/cli"
)

var listProperties bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags or properties",
	Long: `List the feature flags (or, with --properties, the properties) of the
configured collection and environment.

Examples:
  flagctl list --file bootstrap.json --collection web-app --environment dev
  flagctl list --properties --format json --file bootstrap.json --collection web-app --environment dev`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot()
		if err != nil {
			return err
		}

		if listProperties {
			props := snap.PropertyList()
			if len(props) == 0 {
				fmt.Println("No properties found")
				return nil
			}
			return cli.PrintProperties(os.Stdout, props, cli.OutputFormat(format))
		}

		features := snap.FeatureList()
		if len(features) == 0 {
			fmt.Println("No features found")
			return nil
		}
		return cli.PrintFeatures(os.Stdout, features, cli.OutputFormat(format))
	},
}

func init() {
	listCmd.Flags().BoolVar(&listProperties, "properties", false, "List properties instead of features")
	rootCmd.AddCommand(listCmd)
}
