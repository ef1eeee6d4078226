// Package bucketing provides deterministic entity bucketing for rollout and
// experiment decisions. It normalizes a key to a value in [0,100) using a
// 32-bit murmur3 hash with seed 0, so the same entity always lands in the
// same bucket for a given feature, across processes and across the other
// SDKs of the service.
package bucketing

import (
	"github.com/spaolacci/murmur3"
)

const (
	seed       = 0
	normalizer = 100
)

// Normalize maps a key to an integer in [0,100).
// The mapping is floor(hash32(key) / 2^32 * 100), computed without
// floating point so the result is exact.
func Normalize(key string) int {
	h := murmur3.Sum32WithSeed([]byte(key), seed)
	return int(uint64(h) * normalizer >> 32)
}

// RolloutKey builds the hash key used for rollout decisions.
func RolloutKey(entityID, resourceID string) string {
	return entityID + ":" + resourceID
}

// ExperimentKey builds the hash key used for experiment variation bucketing.
// The iteration key is part of the input so a new iteration reshuffles
// entities across variations.
func ExperimentKey(entityID, featureID, iterationKey string) string {
	return entityID + ":" + featureID + ":" + iterationKey
}

// InRollout reports whether an entity falls inside the given rollout
// percentage. A rollout of 100 is unconditional and skips hashing.
func InRollout(entityID, resourceID string, rollout int) bool {
	if rollout >= 100 {
		return true
	}
	return Normalize(RolloutKey(entityID, resourceID)) < rollout
}
