// Package metabolate clusters LC-MS feature data into consensus "basket"
// features and builds a similarity/co-occurrence network over the baskets
// for natural-product discovery.
//
// The pipeline takes per-sample detected features (m/z, retention time,
// intensity, sample id), groups features that fall within a shared
// tolerance window (ppm-relative for mass, absolute for retention time)
// into baskets, then connects baskets whose sample occurrence or intensity
// profiles agree and partitions the resulting graph into communities.
// When a bioactivity matrix is supplied, every basket is scored and only
// the baskets passing the configured activity and cluster thresholds
// become network nodes.
//
// Basic usage:
//
//	fs, err := metabolate.NewFeatureSet(features)
//	cfg := metabolate.DefaultConfig()
//	cfg.MassTolerancePPM = 5
//	result, err := metabolate.Run(fs, nil, cfg)
//	// result.Baskets holds the consensus features
//	// result.Network holds the basket graph and community labels
//
// Each stage is also callable on its own: [BasketFeatures] performs only
// the clustering step, [BuildNetwork] only the graph construction, and
// [CompressReplicates] collapses replicate injections of the same sample
// before cross-sample basketing. [BasketTable] and the Write* functions
// serialize results for downstream reporting.
//
// # Determinism
//
// Identical input and configuration always produce identical baskets,
// edges, and community labels. Basket seeding order, candidate admission
// order, and community-detection tie-breaks are all fully specified, so
// repeated runs are byte-for-byte reproducible.
package metabolate
