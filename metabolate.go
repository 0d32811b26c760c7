package metabolate

import (
	"fmt"
	"math"
	"runtime"
)

// EdgeWeightPolicy selects how basket-graph edge weights are computed.
type EdgeWeightPolicy string

const (
	// EdgeWeightCoOccurrence weights an edge by the number of samples
	// both baskets were detected in.
	EdgeWeightCoOccurrence EdgeWeightPolicy = "cooccurrence"

	// EdgeWeightCorrelation weights an edge by the Pearson correlation
	// of the two baskets' per-sample intensity vectors.
	EdgeWeightCorrelation EdgeWeightPolicy = "correlation"
)

// Config controls basketing and network construction.
// Start with [DefaultConfig] and override the fields you need.
// The struct is passed by value and never mutated by the pipeline.
type Config struct {
	// MassTolerancePPM is the relative m/z tolerance in parts per million.
	// The absolute window is computed per feature (mz * ppm * 1e-6), so
	// heavier masses get proportionally wider windows. Must be > 0.
	// Default: 30.
	MassTolerancePPM float64

	// RTTolerance is the absolute retention-time tolerance, in the same
	// units as Feature.RT. Must be > 0. Default: 0.03.
	RTTolerance float64

	// MinReplicates is the minimum number of distinct samples a basket
	// must draw from to be retained. Must be >= 1. Default: 2.
	MinReplicates int

	// KeepLowReplicate keeps baskets that fail MinReplicates, flagged
	// LowConfidence, instead of dropping them. Default: false (drop).
	KeepLowReplicate bool

	// EdgeWeight selects the edge weight policy for network construction.
	// Default: EdgeWeightCoOccurrence.
	EdgeWeight EdgeWeightPolicy

	// MinEdgeWeight is the sparsification threshold: candidate edges with
	// weight below it are omitted from the network. Must be >= 0.
	// Zero selects the policy default: 1 for co-occurrence (at least one
	// shared sample) and 0 for correlation, where non-positive
	// correlations are always omitted regardless of this field.
	MinEdgeWeight float64

	// ActivityThreshold and ClusterThreshold gate network export when an
	// activity matrix is supplied to [Run]: only baskets with
	// Score.Activity >= ActivityThreshold and Score.Cluster >=
	// ClusterThreshold become network nodes. Every retained basket is
	// still scored and reported. Ignored without an activity matrix.
	// Set both to math.Inf(-1) to network every basket; [AutoThreshold]
	// can derive data-driven values. Defaults: 2 and 0.3.
	ActivityThreshold float64
	ClusterThreshold  float64

	// Resolution is the community-detection resolution parameter. Higher
	// values produce more, smaller communities. Must be > 0. Default: 1.0.
	Resolution float64

	// MaxIterations bounds the outer Louvain passes (local moving +
	// aggregation). When the budget is exhausted the best partition found
	// so far is returned with Network.Converged == false; this is not an
	// error. Must be >= 1. Default: 100.
	MaxIterations int

	// LeafSize controls the maximum number of points in a spatial-index
	// leaf node. Default: 40.
	LeafSize int

	// Workers controls the number of goroutines used by
	// [CompressReplicates] (samples are processed share-nothing in
	// parallel). 0 means runtime.NumCPU(). Basketing itself is
	// sequential: each merge decision depends on prior assignments.
	Workers int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		MassTolerancePPM:  30,
		RTTolerance:       0.03,
		MinReplicates:     2,
		EdgeWeight:        EdgeWeightCoOccurrence,
		ActivityThreshold: 2,
		ClusterThreshold:  0.3,
		Resolution:        1.0,
		MaxIterations:     100,
		LeafSize:          40,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.EdgeWeight == "" {
		cfg.EdgeWeight = EdgeWeightCoOccurrence
	}
	if cfg.MinEdgeWeight == 0 && cfg.EdgeWeight == EdgeWeightCoOccurrence {
		cfg.MinEdgeWeight = 1
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = 1.0
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 100
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = 40
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.MassTolerancePPM <= 0 {
		return fmt.Errorf("metabolate: MassTolerancePPM must be > 0, got %g", cfg.MassTolerancePPM)
	}
	if cfg.RTTolerance <= 0 {
		return fmt.Errorf("metabolate: RTTolerance must be > 0, got %g", cfg.RTTolerance)
	}
	if cfg.MinReplicates < 1 {
		return fmt.Errorf("metabolate: MinReplicates must be >= 1, got %d", cfg.MinReplicates)
	}
	switch cfg.EdgeWeight {
	case EdgeWeightCoOccurrence, EdgeWeightCorrelation:
		// valid
	default:
		return fmt.Errorf("metabolate: invalid EdgeWeight %q", cfg.EdgeWeight)
	}
	if cfg.MinEdgeWeight < 0 {
		return fmt.Errorf("metabolate: MinEdgeWeight must be >= 0, got %g", cfg.MinEdgeWeight)
	}
	if math.IsNaN(cfg.ActivityThreshold) {
		return fmt.Errorf("metabolate: ActivityThreshold must not be NaN")
	}
	if math.IsNaN(cfg.ClusterThreshold) {
		return fmt.Errorf("metabolate: ClusterThreshold must not be NaN")
	}
	if cfg.Resolution <= 0 {
		return fmt.Errorf("metabolate: Resolution must be > 0, got %g", cfg.Resolution)
	}
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("metabolate: MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}
	if cfg.LeafSize < 1 {
		return fmt.Errorf("metabolate: LeafSize must be >= 1, got %d", cfg.LeafSize)
	}
	return nil
}

// Result is the output of a full pipeline run.
type Result struct {
	// BasketResult holds baskets, dropped baskets, and unassigned features.
	*BasketResult

	// Network is the basket graph with community labels. Nil when no
	// baskets were retained. When an ActivityMatrix was supplied, nodes
	// are only the baskets passing both score thresholds; baskets
	// filtered out carry no community label.
	Network *Network

	// Scores holds per-basket bioactivity scores, parallel to Baskets.
	// Nil when no ActivityMatrix was supplied.
	Scores []Score
}

// Run executes the full pipeline: basketing, network construction with
// community detection, and (when act is non-nil) bioactivity scoring.
// With an activity matrix every retained basket is scored, but only the
// baskets passing both cfg thresholds enter the network; without one the
// network spans all retained baskets. Replicate compression is a
// separate pre-step; see [CompressReplicates].
func Run(fs *FeatureSet, act *ActivityMatrix, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	br, err := BasketFeatures(fs, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{BasketResult: br}
	if len(br.Baskets) == 0 {
		return res, nil
	}

	netBaskets := br.Baskets
	if act != nil {
		res.Scores = ScoreBaskets(br.Baskets, act)
		netBaskets = FilterActive(br.Baskets, res.Scores,
			cfg.ActivityThreshold, cfg.ClusterThreshold)
	}

	net, err := BuildNetwork(netBaskets, cfg)
	if err != nil {
		return nil, err
	}
	res.Network = net

	return res, nil
}
