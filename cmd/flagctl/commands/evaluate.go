package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/goflagclient/internal/cache"
	"github.com/TimurManjosov/goflagclient/internal/cli"
	"github.com/TimurManjosov/goflagclient/internal/engine"
	"github.com/TimurManjosov/goflagclient/models"
)

var (
	evalEntity   string
	evalAttrs    []string
	evalAttrJSON string
	evalProperty bool
	evalWatch    bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <id>",
	Short: "Evaluate a feature flag or property for an entity",
	Long: `Evaluate one feature flag (or, with --property, one property) against an
entity id and attributes, printing the result and which branch produced it.

With --watch the configuration file is re-read and the evaluation re-run
on every change, which makes iterating on targeting rules quick.

Examples:
  flagctl evaluate dark-mode --entity user-1 --attr email=alice@ibm.com --attr band_level=8
  flagctl evaluate age-limit --property --entity user-1 --attrs-json '{"country":"DE"}'
  flagctl evaluate weekend-discount --entity id1 --watch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := parseAttributes()
		if err != nil {
			return err
		}
		id := args[0]

		if err := evaluateOnce(id, attrs); err != nil {
			return err
		}
		if !evalWatch {
			return nil
		}
		return watchAndReevaluate(id, attrs)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalEntity, "entity", "", "Entity id (required)")
	evaluateCmd.Flags().StringArrayVar(&evalAttrs, "attr", nil, "Entity attribute as key=value (repeatable)")
	evaluateCmd.Flags().StringVar(&evalAttrJSON, "attrs-json", "", "Entity attributes as a JSON object")
	evaluateCmd.Flags().BoolVar(&evalProperty, "property", false, "Evaluate a property instead of a feature")
	evaluateCmd.Flags().BoolVar(&evalWatch, "watch", false, "Re-evaluate whenever the configuration file changes")
	evaluateCmd.MarkFlagRequired("entity")
	rootCmd.AddCommand(evaluateCmd)
}

func parseAttributes() (models.Attributes, error) {
	attrs := models.Attributes{}
	if evalAttrJSON != "" {
		if err := json.Unmarshal([]byte(evalAttrJSON), &attrs); err != nil {
			return nil, fmt.Errorf("invalid --attrs-json: %w", err)
		}
	}
	for _, pair := range evalAttrs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --attr %q, expected key=value", pair)
		}
		attrs[key] = value
	}
	return attrs, nil
}

func evaluateOnce(id string, attrs models.Attributes) error {
	snap, err := loadSnapshot()
	if err != nil {
		return err
	}
	return evaluateSnapshot(snap, id, attrs)
}

func evaluateSnapshot(snap *cache.Snapshot, id string, attrs models.Attributes) error {
	if evalProperty {
		p, ok := snap.Properties[id]
		if !ok {
			return fmt.Errorf("property not found: %s", id)
		}
		res, _ := engine.EvaluateProperty(p, evalEntity, attrs, snap)
		return cli.PrintPropertyResult(os.Stdout, id, res, cli.OutputFormat(format))
	}

	f, ok := snap.Features[id]
	if !ok {
		return fmt.Errorf("feature not found: %s", id)
	}
	res, _ := engine.EvaluateFeature(f, evalEntity, attrs, snap)
	return cli.PrintFeatureResult(os.Stdout, id, res, cli.OutputFormat(format))
}

// watchAndReevaluate re-runs the evaluation on each change to the
// configuration file until interrupted. A broken intermediate state (some
// editors truncate before writing) is reported and skipped, not fatal.
func watchAndReevaluate(id string, attrs models.Attributes) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(bootstrapFile); err != nil {
		return fmt.Errorf("failed to watch %s: %w", bootstrapFile, err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", bootstrapFile)
	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := evaluateOnce(id, attrs); err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}
