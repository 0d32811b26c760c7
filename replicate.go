package metabolate

import (
	"sort"
	"sync"
)

// CompressReplicates collapses replicate injections of each sample into
// consensus features before cross-sample basketing, the way replicate
// filtering removes one-off noise peaks: a consensus feature survives
// only if it was observed in at least cfg.MinReplicates distinct
// injections of the sample.
//
// fs must contain features whose Sample field is the replicate injection
// id. groups maps injection id to biological sample id; injection ids
// absent from groups stand for themselves. Each sample is processed
// independently (share-nothing) by cfg.Workers goroutines and results
// are joined in ascending sample order, so output is deterministic
// regardless of parallelism.
//
// The returned FeatureSet carries one feature per surviving consensus
// (Sample = biological sample id, m/z and RT = intensity-weighted
// consensus, Intensity = mean across injections), ready for
// [BasketFeatures].
func CompressReplicates(fs *FeatureSet, groups map[string]string, cfg Config) (*FeatureSet, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	// Group feature indices by biological sample.
	bySample := make(map[string][]int)
	for i := 0; i < fs.Len(); i++ {
		rep := fs.At(i).Sample
		sample := rep
		if s, ok := groups[rep]; ok {
			sample = s
		}
		bySample[sample] = append(bySample[sample], i)
	}

	samples := make([]string, 0, len(bySample))
	for s := range bySample {
		samples = append(samples, s)
	}
	sort.Strings(samples)

	results := make([][]Feature, len(samples))
	errs := make([]error, len(samples))

	compressOne := func(si int) {
		sample := samples[si]
		idxs := bySample[sample]
		sub := make([]Feature, len(idxs))
		for k, idx := range idxs {
			sub[k] = fs.At(idx)
		}
		subSet, err := NewFeatureSet(sub)
		if err != nil {
			errs[si] = err
			return
		}

		subCfg := cfg
		subCfg.KeepLowReplicate = false
		br, err := BasketFeatures(subSet, subCfg)
		if err != nil {
			errs[si] = err
			return
		}

		out := make([]Feature, len(br.Baskets))
		for k, b := range br.Baskets {
			out[k] = Feature{
				Sample:    sample,
				Mz:        b.Mz,
				RT:        b.RT,
				Intensity: b.Intensity,
			}
		}
		results[si] = out
	}

	numWorkers := cfg.Workers
	if numWorkers > len(samples) {
		numWorkers = len(samples)
	}

	if numWorkers <= 1 {
		for si := range samples {
			compressOne(si)
		}
	} else {
		// Split samples across workers. Each worker handles a contiguous
		// range; since ranges don't overlap, no synchronization is needed
		// for writes.
		var wg sync.WaitGroup
		perWorker := (len(samples) + numWorkers - 1) / numWorkers

		for w := 0; w < numWorkers; w++ {
			start := w * perWorker
			end := start + perWorker
			if end > len(samples) {
				end = len(samples)
			}
			if start >= len(samples) {
				break
			}

			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				for si := start; si < end; si++ {
					compressOne(si)
				}
			}(start, end)
		}

		wg.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var merged []Feature
	for _, out := range results {
		merged = append(merged, out...)
	}
	return NewFeatureSet(merged)
}
