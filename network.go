package metabolate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/stat"
)

// Network is an undirected weighted graph over retained baskets, with a
// community label per basket. It is rebuilt from scratch on every
// BuildNetwork call; edges have no identity across runs.
type Network struct {
	baskets []Basket
	g       *simple.WeightedUndirectedGraph

	// Community maps basket ID to its community label. Labels are
	// 0..k-1, numbered by ascending smallest member basket ID.
	Community map[int]int

	// Modularity is the quality of the final partition under the
	// configured resolution. 0 for an edgeless graph.
	Modularity float64

	// Converged reports whether community detection reached a local
	// optimum within Config.MaxIterations. When false, the partition is
	// still the best found before the budget ran out.
	Converged bool
}

// BuildNetwork constructs the basket graph and runs community detection.
// One node per basket; edge weights follow cfg.EdgeWeight:
//
//   - EdgeWeightCoOccurrence: number of samples shared by both baskets.
//   - EdgeWeightCorrelation: Pearson correlation of the baskets'
//     per-sample intensity vectors over the union sample axis.
//
// Candidate edges with weight below cfg.MinEdgeWeight are omitted.
// Correlation edges are additionally cut at <= 0, and undefined
// correlations (a basket with zero intensity variance) never produce an
// edge, so a correlation network needs no MinEdgeWeight to stay sparse.
// Self-edges are never created and weights are symmetric by construction.
// Baskets left with no surviving edges become singleton communities.
func BuildNetwork(baskets []Basket, cfg Config) (*Network, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	net := &Network{
		baskets:   make([]Basket, len(baskets)),
		g:         simple.NewWeightedUndirectedGraph(0, 0),
		Community: make(map[int]int, len(baskets)),
	}
	copy(net.baskets, baskets)

	seen := make(map[int]bool, len(baskets))
	for _, b := range baskets {
		if seen[b.ID] {
			return nil, &InternalConsistencyError{
				Op:     "BuildNetwork",
				Detail: fmt.Sprintf("duplicate basket ID %d", b.ID),
			}
		}
		seen[b.ID] = true
		net.g.AddNode(simple.Node(b.ID))
	}

	var vectors [][]float64
	if cfg.EdgeWeight == EdgeWeightCorrelation {
		vectors = intensityVectors(baskets)
	}

	for i := 0; i < len(baskets); i++ {
		for j := i + 1; j < len(baskets); j++ {
			var w float64
			switch cfg.EdgeWeight {
			case EdgeWeightCorrelation:
				w = stat.Correlation(vectors[i], vectors[j], nil)
				if math.IsNaN(w) || w <= 0 {
					continue
				}
			default:
				w = float64(sharedSamples(baskets[i], baskets[j]))
			}
			if w < cfg.MinEdgeWeight {
				continue
			}
			net.g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(baskets[i].ID),
				T: simple.Node(baskets[j].ID),
				W: w,
			})
		}
	}

	detectCommunities(net, cfg)
	return net, nil
}

// Order returns the number of baskets (nodes) in the network.
func (net *Network) Order() int { return len(net.baskets) }

// Size returns the number of edges that survived sparsification.
func (net *Network) Size() int {
	if net.g == nil {
		return 0
	}
	return net.g.Edges().Len()
}

// Weight returns the edge weight between baskets a and b, or false when
// no edge survived sparsification. Weight(a, b) == Weight(b, a).
func (net *Network) Weight(a, b int) (float64, bool) {
	if a == b {
		return 0, false
	}
	e := net.g.WeightedEdge(int64(a), int64(b))
	if e == nil {
		return 0, false
	}
	return e.Weight(), true
}

// sharedSamples counts samples present in both baskets. Sample slices
// are sorted ascending, so a single merge pass suffices.
func sharedSamples(a, b Basket) int {
	count, i, j := 0, 0, 0
	for i < len(a.Samples) && j < len(b.Samples) {
		switch {
		case a.Samples[i] < b.Samples[j]:
			i++
		case a.Samples[i] > b.Samples[j]:
			j++
		default:
			count++
			i++
			j++
		}
	}
	return count
}

// intensityVectors expands each basket's per-sample intensities onto the
// union sample axis (sorted), with zero where the basket is absent.
func intensityVectors(baskets []Basket) [][]float64 {
	union := make(map[string]bool)
	for _, b := range baskets {
		for _, s := range b.Samples {
			union[s] = true
		}
	}
	axis := make([]string, 0, len(union))
	for s := range union {
		axis = append(axis, s)
	}
	sort.Strings(axis)

	vectors := make([][]float64, len(baskets))
	for i, b := range baskets {
		v := make([]float64, len(axis))
		for k, s := range axis {
			v[k] = b.SampleIntensity[s]
		}
		vectors[i] = v
	}
	return vectors
}
