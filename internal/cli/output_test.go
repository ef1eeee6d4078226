package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/TimurManjosov/goflagclient/models"
)

func sampleFeatures() []models.Feature {
	return []models.Feature{{
		Name:          "Dark Mode",
		FeatureID:     "dark-mode",
		Type:          models.TypeBoolean,
		Enabled:       true,
		EnabledValue:  true,
		DisabledValue: false,
	}}
}

func TestPrintFeatures_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, sampleFeatures(), FormatJSON); err != nil {
		t.Fatalf("PrintFeatures: %v", err)
	}
	var out map[string][]models.Feature
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(out["features"]) != 1 || out["features"][0].FeatureID != "dark-mode" {
		t.Fatalf("out = %v", out)
	}
}

func TestPrintFeatures_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, sampleFeatures(), FormatTable); err != nil {
		t.Fatalf("PrintFeatures: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"dark-mode", "Dark Mode", "100%"} {
		if !strings.Contains(got, want) {
			t.Fatalf("table output missing %q:\n%s", want, got)
		}
	}
}

func TestPrintFeatures_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintFeatures(&buf, sampleFeatures(), OutputFormat("xml")); err == nil {
		t.Fatal("unknown format must fail")
	}
}

func TestPrintFeatureResult_YAML(t *testing.T) {
	var buf bytes.Buffer
	res := models.FeatureResult{
		Value:              true,
		Enabled:            true,
		EvaluatedSegmentID: models.NullSegmentID,
		Details:            models.Details{ValueKind: models.ValueEnabled, Reason: "within rollout"},
	}
	if err := PrintFeatureResult(&buf, "dark-mode", res, FormatYAML); err != nil {
		t.Fatalf("PrintFeatureResult: %v", err)
	}
	if !strings.Contains(buf.String(), "ENABLED_VALUE") {
		t.Fatalf("yaml output missing value kind:\n%s", buf.String())
	}
}

func TestPrintProperties_Table(t *testing.T) {
	var buf bytes.Buffer
	props := []models.Property{{Name: "Age Limit", PropertyID: "age-limit", Type: models.TypeNumeric, Value: 18}}
	if err := PrintProperties(&buf, props, FormatTable); err != nil {
		t.Fatalf("PrintProperties: %v", err)
	}
	if !strings.Contains(buf.String(), "age-limit") {
		t.Fatalf("table output missing property id:\n%s", buf.String())
	}
}
