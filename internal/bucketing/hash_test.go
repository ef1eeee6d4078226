package bucketing

import (
	"fmt"
	"testing"
)

func TestNormalize_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("entity-%d:feature-%d", i, i%7)
		got := Normalize(key)
		if got < 0 || got >= 100 {
			t.Fatalf("Normalize(%q) = %d, want value in [0,100)", key, got)
		}
	}
}

func TestNormalize_Stable(t *testing.T) {
	key := "id1:weekend-discount"
	first := Normalize(key)
	for i := 0; i < 50; i++ {
		if got := Normalize(key); got != first {
			t.Fatalf("Normalize(%q) changed across calls: first=%d got=%d", key, first, got)
		}
	}
}

func TestNormalize_Distribution(t *testing.T) {
	// Rough uniformity check: with 10k keys every decile should be populated.
	var buckets [10]int
	for i := 0; i < 10000; i++ {
		buckets[Normalize(fmt.Sprintf("user-%d:flag", i))/10]++
	}
	for i, n := range buckets {
		if n < 500 {
			t.Fatalf("decile %d underpopulated: %d of 10000", i, n)
		}
	}
}

func TestInRollout(t *testing.T) {
	if !InRollout("anyone", "any-feature", 100) {
		t.Fatal("rollout=100 must include every entity")
	}
	if InRollout("anyone", "any-feature", 0) {
		t.Fatal("rollout=0 must exclude every entity")
	}

	// Monotone: raising the percentage never removes an entity.
	for i := 0; i < 200; i++ {
		entity := fmt.Sprintf("e%d", i)
		in50 := InRollout(entity, "f", 50)
		in80 := InRollout(entity, "f", 80)
		if in50 && !in80 {
			t.Fatalf("entity %s included at 50%% but excluded at 80%%", entity)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := RolloutKey("id1", "weekend-discount"); got != "id1:weekend-discount" {
		t.Fatalf("RolloutKey = %q", got)
	}
	if got := ExperimentKey("id1", "f1", "iter-key"); got != "id1:f1:iter-key" {
		t.Fatalf("ExperimentKey = %q", got)
	}
}
