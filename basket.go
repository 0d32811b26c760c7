package metabolate

import (
	"fmt"
	"math"
	"sort"
)

// Basket is a consensus feature formed by merging matching features
// across samples. Baskets are frozen once basketing completes; Members
// are input indices into the FeatureSet the basket was built from.
type Basket struct {
	// ID is the basket's position in the retained basket slice. Dropped
	// baskets keep the ID they held during the basketing pass.
	ID int

	// Members are the indices of the constituent features, ascending.
	Members []int

	// Mz is the intensity-weighted mean m/z of the members.
	Mz float64

	// RT is the intensity-weighted mean retention time of the members.
	RT float64

	// Intensity is the mean member intensity. MinIntensity and
	// MaxIntensity bound the member intensities.
	Intensity    float64
	MinIntensity float64
	MaxIntensity float64

	// SampleIntensity sums member intensity per contributing sample.
	SampleIntensity map[string]float64

	// Samples lists the distinct contributing sample ids, ascending.
	Samples []string

	// Replicates is the number of distinct contributing samples.
	Replicates int

	// LowConfidence marks a basket kept despite failing
	// Config.MinReplicates (only set when Config.KeepLowReplicate).
	LowConfidence bool
}

// BasketResult is the output of a completed basketing pass.
type BasketResult struct {
	// Baskets are the retained consensus features, renumbered 0..k-1 in
	// creation order.
	Baskets []Basket

	// Dropped are baskets removed for failing MinReplicates (empty when
	// Config.KeepLowReplicate). Their members appear in Unassigned.
	Dropped []Basket

	// Unassigned lists input feature indices not represented by any
	// retained basket, ascending. Every input feature is in exactly one
	// retained basket or in Unassigned, never both, never neither.
	Unassigned []int

	// Insufficient records every basket that failed MinReplicates,
	// whether dropped or kept low-confidence.
	Insufficient []InsufficientDataError
}

// BasketFeatures clusters fs into consensus baskets under cfg's tolerance
// windows using greedy seeded agglomeration:
//
//  1. Features are ordered by descending intensity (ties: ascending m/z,
//     then RT, then input index). The order decides which feature seeds
//     each basket and is the reproducibility contract.
//  2. The highest-priority unassigned feature seeds a new basket. The
//     spatial index is queried for unassigned features inside the seed's
//     ppm m/z window and absolute RT window.
//  3. Candidates are considered in ascending |Δm/z| from the seed and
//     admitted only if the updated intensity-weighted consensus stays
//     inside every current member's own tolerance window. A rejected
//     candidate stays unassigned and may seed or join a later basket.
//  4. When no unassigned features remain, consensus statistics are
//     frozen and baskets below MinReplicates are dropped or flagged
//     per cfg.KeepLowReplicate.
//
// Returns an *InternalConsistencyError if the assignment state is ever
// observed corrupt (a feature consumed twice); that aborts the run.
func BasketFeatures(fs *FeatureSet, cfg Config) (*BasketResult, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	n := fs.Len()
	if n == 0 {
		return &BasketResult{}, nil
	}

	tree := newFeatureTree(fs, cfg.LeafSize)

	// Seed priority: descending intensity, then ascending m/z, RT, index.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		fa, fb := fs.At(order[a]), fs.At(order[b])
		if fa.Intensity != fb.Intensity {
			return fa.Intensity > fb.Intensity
		}
		if fa.Mz != fb.Mz {
			return fa.Mz < fb.Mz
		}
		if fa.RT != fb.RT {
			return fa.RT < fb.RT
		}
		return order[a] < order[b]
	})

	assigned := make([]bool, n)
	var baskets [][]int // member indices per basket, in creation order
	var candidates []int

	for _, seed := range order {
		if assigned[seed] {
			continue
		}
		if !tree.Contains(seed) {
			return nil, &InternalConsistencyError{
				Op:     "BasketFeatures",
				Detail: fmt.Sprintf("unassigned feature %d missing from spatial index", seed),
			}
		}
		if err := tree.Remove(seed); err != nil {
			return nil, err
		}
		assigned[seed] = true

		sf := fs.At(seed)
		members := []int{seed}
		sumW := sf.Intensity
		sumMzW := sf.Mz * sf.Intensity
		sumRTW := sf.RT * sf.Intensity

		mzTol := ppmHalfWidth(sf.Mz, cfg.MassTolerancePPM)
		candidates = tree.Query(candidates[:0],
			sf.Mz-mzTol, sf.Mz+mzTol,
			sf.RT-cfg.RTTolerance, sf.RT+cfg.RTTolerance)

		// Tightest m/z matches anchor the consensus first.
		sort.Slice(candidates, func(a, b int) bool {
			da := math.Abs(fs.At(candidates[a]).Mz - sf.Mz)
			db := math.Abs(fs.At(candidates[b]).Mz - sf.Mz)
			if da != db {
				return da < db
			}
			return candidates[a] < candidates[b]
		})

		for _, cand := range candidates {
			cf := fs.At(cand)
			newW := sumW + cf.Intensity
			var newMz, newRT float64
			if newW > 0 {
				newMz = (sumMzW + cf.Mz*cf.Intensity) / newW
				newRT = (sumRTW + cf.RT*cf.Intensity) / newW
			} else {
				// All-zero intensity: unweighted mean.
				newMz, newRT = unweightedMean(fs, members, cf)
			}

			if !withinTolerance(cf, newMz, newRT, cfg) {
				continue
			}
			ok := true
			for _, m := range members {
				if !withinTolerance(fs.At(m), newMz, newRT, cfg) {
					ok = false
					break
				}
			}
			if !ok {
				continue
			}

			if assigned[cand] {
				return nil, &InternalConsistencyError{
					Op:     "BasketFeatures",
					Detail: fmt.Sprintf("feature %d returned by index query after assignment", cand),
				}
			}
			if err := tree.Remove(cand); err != nil {
				return nil, err
			}
			assigned[cand] = true
			members = append(members, cand)
			sumW = newW
			sumMzW += cf.Mz * cf.Intensity
			sumRTW += cf.RT * cf.Intensity
		}

		sort.Ints(members)
		baskets = append(baskets, members)
	}

	if tree.Live() != 0 {
		return nil, &InternalConsistencyError{
			Op:     "BasketFeatures",
			Detail: fmt.Sprintf("%d features remain in spatial index after pass", tree.Live()),
		}
	}

	return finalizeBaskets(fs, baskets, cfg)
}

// withinTolerance reports whether the consensus position (mz, rt) lies
// inside f's own tolerance window. The ppm half-width is evaluated at
// f's mass, so the containment invariant holds per member.
func withinTolerance(f Feature, mz, rt float64, cfg Config) bool {
	if math.Abs(f.Mz-mz) > ppmHalfWidth(f.Mz, cfg.MassTolerancePPM) {
		return false
	}
	return math.Abs(f.RT-rt) <= cfg.RTTolerance
}

// unweightedMean returns the plain mean (m/z, RT) of members plus extra.
func unweightedMean(fs *FeatureSet, members []int, extra Feature) (mz, rt float64) {
	mz, rt = extra.Mz, extra.RT
	for _, m := range members {
		f := fs.At(m)
		mz += f.Mz
		rt += f.RT
	}
	k := float64(len(members) + 1)
	return mz / k, rt / k
}

// finalizeBaskets computes frozen consensus statistics for each member
// list and applies the minimum-replicate policy.
func finalizeBaskets(fs *FeatureSet, memberLists [][]int, cfg Config) (*BasketResult, error) {
	res := &BasketResult{}
	total := 0

	for id, members := range memberLists {
		b := buildBasket(fs, id, members)
		total += len(members)

		if b.Replicates < cfg.MinReplicates {
			res.Insufficient = append(res.Insufficient, InsufficientDataError{
				BasketID:   id,
				Replicates: b.Replicates,
				Required:   cfg.MinReplicates,
			})
			if !cfg.KeepLowReplicate {
				res.Dropped = append(res.Dropped, b)
				res.Unassigned = append(res.Unassigned, members...)
				continue
			}
			b.LowConfidence = true
		}
		res.Baskets = append(res.Baskets, b)
	}

	if total != fs.Len() {
		return nil, &InternalConsistencyError{
			Op:     "BasketFeatures",
			Detail: fmt.Sprintf("basketed %d of %d features", total, fs.Len()),
		}
	}

	// Retained baskets are renumbered contiguously; dropped baskets keep
	// their pass-time IDs for correlation with Insufficient records.
	for i := range res.Baskets {
		res.Baskets[i].ID = i
	}
	sort.Ints(res.Unassigned)

	return res, nil
}

// buildBasket computes the frozen consensus record for one member list.
func buildBasket(fs *FeatureSet, id int, members []int) Basket {
	b := Basket{
		ID:              id,
		Members:         members,
		MinIntensity:    math.Inf(1),
		MaxIntensity:    math.Inf(-1),
		SampleIntensity: make(map[string]float64),
	}

	var sumW, sumMzW, sumRTW, sumMz, sumRT, sumInt float64
	for _, m := range members {
		f := fs.At(m)
		sumW += f.Intensity
		sumMzW += f.Mz * f.Intensity
		sumRTW += f.RT * f.Intensity
		sumMz += f.Mz
		sumRT += f.RT
		sumInt += f.Intensity
		if f.Intensity < b.MinIntensity {
			b.MinIntensity = f.Intensity
		}
		if f.Intensity > b.MaxIntensity {
			b.MaxIntensity = f.Intensity
		}
		b.SampleIntensity[f.Sample] += f.Intensity
	}

	k := float64(len(members))
	if sumW > 0 {
		b.Mz = sumMzW / sumW
		b.RT = sumRTW / sumW
	} else {
		b.Mz = sumMz / k
		b.RT = sumRT / k
	}
	b.Intensity = sumInt / k

	b.Samples = make([]string, 0, len(b.SampleIntensity))
	for s := range b.SampleIntensity {
		b.Samples = append(b.Samples, s)
	}
	sort.Strings(b.Samples)
	b.Replicates = len(b.Samples)

	return b
}
