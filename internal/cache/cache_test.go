package cache

import (
	"testing"

	"github.com/TimurManjosov/goflagclient/models"
)

func sampleConfig() *models.Configuration {
	return &models.Configuration{
		Features: []models.Feature{
			{FeatureID: "f1", Name: "First", Enabled: true, EnabledValue: true, DisabledValue: false},
			{FeatureID: "f2", Name: "Second", Enabled: false, EnabledValue: "on", DisabledValue: "off"},
		},
		Properties: []models.Property{
			{PropertyID: "p1", Name: "Limit", Value: 18},
		},
		Segments: []models.Segment{
			{SegmentID: "s1", Name: "employees"},
		},
	}
}

func TestBuild(t *testing.T) {
	s := Build(sampleConfig())

	if len(s.Features) != 2 || len(s.Properties) != 1 || len(s.Segments) != 1 {
		t.Fatalf("maps = %d/%d/%d", len(s.Features), len(s.Properties), len(s.Segments))
	}
	if f, ok := s.Features["f1"]; !ok || f.Name != "First" {
		t.Fatalf("feature lookup: %+v ok=%v", f, ok)
	}
	if seg, ok := s.Segment("s1"); !ok || seg.Name != "employees" {
		t.Fatalf("segment lookup: %+v ok=%v", seg, ok)
	}
	if _, ok := s.Segment("nope"); ok {
		t.Fatal("unknown segment must not resolve")
	}
	if got := s.FeatureList(); len(got) != 2 || got[0].FeatureID != "f1" {
		t.Fatalf("FeatureList must keep definition order: %+v", got)
	}
	if s.ETag == "" {
		t.Fatal("ETag must be set")
	}
}

func TestBuild_ETagStable(t *testing.T) {
	a := Build(sampleConfig())
	b := Build(sampleConfig())
	if a.ETag != b.ETag {
		t.Fatalf("identical configurations must hash identically: %s vs %s", a.ETag, b.ETag)
	}

	changed := sampleConfig()
	changed.Features[0].Enabled = false
	if c := Build(changed); c.ETag == a.ETag {
		t.Fatal("a changed configuration must hash differently")
	}
}

func TestCache_ReplaceAndCurrent(t *testing.T) {
	c := New()
	if c.Current() != nil {
		t.Fatal("cache must start empty")
	}

	first := Build(sampleConfig())
	c.Replace(first)
	if c.Current() != first {
		t.Fatal("Current must return the installed snapshot")
	}

	second := Build(sampleConfig())
	c.Replace(second)
	if c.Current() != second {
		t.Fatal("Replace must swap the snapshot")
	}
	// The old snapshot stays readable for holders of the pointer.
	if _, ok := first.Segment("s1"); !ok {
		t.Fatal("replaced snapshot must remain intact")
	}
}

func TestCache_Subscribe(t *testing.T) {
	c := New()
	ch, unsub := c.Subscribe()

	s := Build(sampleConfig())
	c.Replace(s)

	select {
	case etag := <-ch:
		if etag != s.ETag {
			t.Fatalf("etag = %s, want %s", etag, s.ETag)
		}
	default:
		t.Fatal("subscriber must be notified")
	}

	unsub()
	if _, open := <-ch; open {
		t.Fatal("unsubscribe must close the channel")
	}

	// Publishing after unsubscribe must not panic.
	c.Replace(Build(sampleConfig()))
}

func TestCache_SlowSubscriberSkipped(t *testing.T) {
	c := New()
	ch, unsub := c.Subscribe()
	defer unsub()

	c.Replace(Build(sampleConfig()))
	changed := sampleConfig()
	changed.Features[0].Name = "Renamed"
	c.Replace(Build(changed)) // buffer full, must not block

	if len(ch) != 1 {
		t.Fatalf("buffered notifications = %d, want 1", len(ch))
	}
}

func TestCache_UnsubscribeTwice(t *testing.T) {
	c := New()
	_, unsub := c.Subscribe()
	unsub()
	unsub() // second call is a no-op, not a double close
}
