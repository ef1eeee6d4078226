// Package cli renders features, properties and evaluation results for the
// flagctl command in table, json or yaml form.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/goflagclient/models"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintFeatures outputs feature definitions in the specified format.
func PrintFeatures(w io.Writer, features []models.Feature, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]models.Feature{"features": features})
	case FormatYAML:
		return printYAML(w, features)
	case FormatTable:
		return printFeatureTable(w, features)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintProperties outputs property definitions in the specified format.
func PrintProperties(w io.Writer, properties []models.Property, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, map[string][]models.Property{"properties": properties})
	case FormatYAML:
		return printYAML(w, properties)
	case FormatTable:
		return printPropertyTable(w, properties)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintFeatureResult outputs one evaluation result.
func PrintFeatureResult(w io.Writer, featureID string, res models.FeatureResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Feature", "Value", "Enabled", "Branch", "Segment")
		table.Append(
			featureID,
			fmt.Sprintf("%v", res.Value),
			fmt.Sprintf("%t", res.Enabled),
			string(res.Details.ValueKind),
			res.Details.SegmentName,
		)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintPropertyResult outputs one property evaluation result.
func PrintPropertyResult(w io.Writer, propertyID string, res models.PropertyResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Property", "Value", "Branch", "Segment")
		table.Append(
			propertyID,
			fmt.Sprintf("%v", res.Value),
			string(res.Details.ValueKind),
			res.Details.SegmentName,
		)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printFeatureTable(w io.Writer, features []models.Feature) error {
	table := tablewriter.NewWriter(w)
	table.Header("Feature ID", "Name", "Type", "Enabled", "Rollout", "Rules")

	for i := range features {
		f := &features[i]
		table.Append(
			f.FeatureID,
			f.Name,
			string(f.Type),
			fmt.Sprintf("%t", f.Enabled),
			fmt.Sprintf("%d%%", f.Rollout()),
			fmt.Sprintf("%d", len(f.SegmentRules)),
		)
	}
	return table.Render()
}

func printPropertyTable(w io.Writer, properties []models.Property) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property ID", "Name", "Type", "Value", "Rules")

	for i := range properties {
		p := &properties[i]
		table.Append(
			p.PropertyID,
			p.Name,
			string(p.Type),
			fmt.Sprintf("%v", p.Value),
			fmt.Sprintf("%d", len(p.SegmentRules)),
		)
	}
	return table.Render()
}
