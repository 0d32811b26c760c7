package metabolate

import (
	"math"
	"sort"
)

// Feature is one detected LC-MS feature from a single sample run.
// Features are immutable once ingested into a FeatureSet.
type Feature struct {
	// Sample identifies the run the feature was detected in. During
	// replicate compression this is a replicate injection id; after
	// compression it is the biological sample id.
	Sample string

	// Mz is the measured mass-to-charge ratio. Must be finite and positive.
	Mz float64

	// RT is the retention time in the acquisition's time units.
	// Must be finite and non-negative.
	RT float64

	// Intensity is the measured signal intensity. Must be finite and
	// non-negative. Zero-intensity features are accepted; they contribute
	// to membership but not to intensity-weighted consensus positions.
	Intensity float64
}

// FeatureSet is the validated, ordered input to a basketing run.
// Feature i keeps index i for the lifetime of the set, so downstream
// basket membership and unassigned records can refer to input positions.
type FeatureSet struct {
	features []Feature
	samples  []string // distinct sample ids, ascending
}

// NewFeatureSet validates features and wraps them in a FeatureSet.
// The input slice is copied; later mutation of it does not affect the set.
// Returns an *InvalidFeatureError for the first malformed feature found.
func NewFeatureSet(features []Feature) (*FeatureSet, error) {
	for i, f := range features {
		switch {
		case f.Sample == "":
			return nil, &InvalidFeatureError{Index: i, Field: "sample"}
		case !isFinite(f.Mz) || f.Mz <= 0:
			return nil, &InvalidFeatureError{Index: i, Field: "mz", Value: f.Mz}
		case !isFinite(f.RT) || f.RT < 0:
			return nil, &InvalidFeatureError{Index: i, Field: "rt", Value: f.RT}
		case !isFinite(f.Intensity) || f.Intensity < 0:
			return nil, &InvalidFeatureError{Index: i, Field: "intensity", Value: f.Intensity}
		}
	}

	fs := &FeatureSet{features: make([]Feature, len(features))}
	copy(fs.features, features)

	seen := make(map[string]bool)
	for _, f := range fs.features {
		if !seen[f.Sample] {
			seen[f.Sample] = true
			fs.samples = append(fs.samples, f.Sample)
		}
	}
	sort.Strings(fs.samples)

	return fs, nil
}

// Len returns the number of features in the set.
func (fs *FeatureSet) Len() int { return len(fs.features) }

// At returns the feature at input index i.
func (fs *FeatureSet) At(i int) Feature { return fs.features[i] }

// Samples returns the distinct sample ids in ascending order.
// The returned slice is shared; callers must not modify it.
func (fs *FeatureSet) Samples() []string { return fs.samples }

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
