package metabolate

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Community detection is Louvain-style modularity maximization: repeated
// local-moving sweeps followed by graph aggregation, until no single-node
// move improves modularity or the sweep budget runs out. Everything is
// deterministic: nodes are scanned in ascending id order, candidate
// communities in ascending id order, and a move requires a strictly
// greater gain, so equal-gain ties keep the lowest-id community.

// louvainEdge is one adjacency entry in a level graph.
type louvainEdge struct {
	to int
	w  float64
}

// louvainGraph is one level of the aggregation hierarchy. Each undirected
// edge appears in both endpoints' adjacency lists; self holds intra-node
// weight accumulated by aggregation (counted once per collapsed edge).
type louvainGraph struct {
	neighbors [][]louvainEdge
	self      []float64
	degree    []float64 // 2*self + sum of incident edge weights
	total     float64   // sum of all degrees (2m), constant across levels
}

// detectCommunities assigns a community label to every basket in net and
// records the partition's modularity and convergence state.
func detectCommunities(net *Network, cfg Config) {
	n := len(net.baskets)
	net.Converged = true
	if n == 0 {
		return
	}

	ids := make([]int, n)
	for i, b := range net.baskets {
		ids[i] = b.ID
	}
	sort.Ints(ids)

	lg := newLouvainGraph(net, ids)
	assign, converged := louvainPartition(lg, cfg.Resolution, cfg.MaxIterations)
	net.Converged = converged

	groups := make([][]graph.Node, 0)
	for i, id := range ids {
		label := assign[i]
		for label >= len(groups) {
			groups = append(groups, nil)
		}
		groups[label] = append(groups[label], simple.Node(id))
		net.Community[id] = label
	}

	if net.Size() > 0 {
		net.Modularity = community.Q(net.g, groups, cfg.Resolution)
	}
}

// newLouvainGraph builds the level-0 graph. Position i corresponds to
// ids[i]; adjacency lists are sorted by neighbor position so traversal
// order never depends on gonum's map iteration order.
func newLouvainGraph(net *Network, ids []int) *louvainGraph {
	n := len(ids)
	pos := make(map[int64]int, n)
	for i, id := range ids {
		pos[int64(id)] = i
	}

	lg := &louvainGraph{
		neighbors: make([][]louvainEdge, n),
		self:      make([]float64, n),
		degree:    make([]float64, n),
	}

	edges := net.g.WeightedEdges()
	for edges.Next() {
		e := edges.WeightedEdge()
		i, j := pos[e.From().ID()], pos[e.To().ID()]
		w := e.Weight()
		lg.neighbors[i] = append(lg.neighbors[i], louvainEdge{to: j, w: w})
		lg.neighbors[j] = append(lg.neighbors[j], louvainEdge{to: i, w: w})
		lg.degree[i] += w
		lg.degree[j] += w
		lg.total += 2 * w
	}
	for i := range lg.neighbors {
		nb := lg.neighbors[i]
		sort.Slice(nb, func(a, b int) bool { return nb[a].to < nb[b].to })
	}
	return lg
}

// louvainPartition runs the full Louvain loop and returns the community
// of each level-0 node plus whether a local optimum was reached within
// the sweep budget. On budget exhaustion the best partition found so far
// is returned; that is a valid (if possibly improvable) partition.
func louvainPartition(lg *louvainGraph, resolution float64, budget int) ([]int, bool) {
	n := len(lg.neighbors)
	assign := make([]int, n)
	for i := range assign {
		assign[i] = i
	}
	if lg.total == 0 {
		// Edgeless graph: every node is its own singleton community.
		return assign, true
	}

	for {
		comm, used, phaseStable, anyMove := localMoving(lg, resolution, budget)
		budget -= used

		comm, k := compactLabels(comm)
		for i := range assign {
			assign[i] = comm[assign[i]]
		}

		if !phaseStable {
			return assign, false // budget ran out mid-phase
		}
		if !anyMove {
			return assign, true // local optimum: aggregation would be a no-op
		}
		if budget == 0 {
			return assign, false
		}
		lg = lg.aggregate(comm, k)
	}
}

// localMoving repeatedly sweeps all nodes, greedily moving each to the
// neighboring community with the largest modularity gain. Stops when a
// sweep makes no move (stable) or the sweep budget is exhausted.
func localMoving(lg *louvainGraph, resolution float64, budget int) (comm []int, sweeps int, stable, anyMove bool) {
	n := len(lg.neighbors)
	comm = make([]int, n)
	commTot := make([]float64, n)
	for i := range comm {
		comm[i] = i
		commTot[i] = lg.degree[i]
	}

	wc := make(map[int]float64, 8)
	var commIDs []int

	for {
		if sweeps == budget {
			return comm, sweeps, false, anyMove
		}
		sweeps++

		moved := false
		for i := 0; i < n; i++ {
			ci := comm[i]
			ki := lg.degree[i]

			for k := range wc {
				delete(wc, k)
			}
			commIDs = commIDs[:0]
			for _, e := range lg.neighbors[i] {
				c := comm[e.to]
				if _, ok := wc[c]; !ok {
					commIDs = append(commIDs, c)
				}
				wc[c] += e.w
			}
			sort.Ints(commIDs)

			// Evaluate gains with i removed from its community.
			commTot[ci] -= ki
			best := ci
			bestGain := wc[ci] - resolution*ki*commTot[ci]/lg.total
			for _, c := range commIDs {
				if c == ci {
					continue
				}
				gain := wc[c] - resolution*ki*commTot[c]/lg.total
				if gain > bestGain {
					bestGain = gain
					best = c
				}
			}
			commTot[best] += ki

			if best != ci {
				comm[i] = best
				moved = true
				anyMove = true
			}
		}

		if !moved {
			return comm, sweeps, true, anyMove
		}
	}
}

// compactLabels renumbers community labels to 0..k-1 in order of first
// appearance by ascending node position. Node positions are ordered by
// smallest original member at every level, so final labels come out
// numbered by ascending smallest basket id.
func compactLabels(comm []int) ([]int, int) {
	next := 0
	remap := make(map[int]int, len(comm))
	out := make([]int, len(comm))
	for i, c := range comm {
		r, ok := remap[c]
		if !ok {
			r = next
			remap[c] = r
			next++
		}
		out[i] = r
	}
	return out, next
}

// aggregate collapses each community into a supernode. Intra-community
// edge weight moves into self loops; inter-community weights sum.
func (lg *louvainGraph) aggregate(comm []int, k int) *louvainGraph {
	agg := &louvainGraph{
		neighbors: make([][]louvainEdge, k),
		self:      make([]float64, k),
		degree:    make([]float64, k),
		total:     lg.total,
	}

	wmap := make([]map[int]float64, k)
	for i := range lg.neighbors {
		ci := comm[i]
		agg.self[ci] += lg.self[i]
		for _, e := range lg.neighbors[i] {
			cj := comm[e.to]
			if ci == cj {
				// Each undirected edge is listed twice; half per visit.
				agg.self[ci] += e.w / 2
			} else {
				if wmap[ci] == nil {
					wmap[ci] = make(map[int]float64)
				}
				wmap[ci][cj] += e.w
			}
		}
	}

	for c := 0; c < k; c++ {
		tos := make([]int, 0, len(wmap[c]))
		for to := range wmap[c] {
			tos = append(tos, to)
		}
		sort.Ints(tos)
		sum := 0.0
		for _, to := range tos {
			w := wmap[c][to]
			agg.neighbors[c] = append(agg.neighbors[c], louvainEdge{to: to, w: w})
			sum += w
		}
		agg.degree[c] = 2*agg.self[c] + sum
	}
	return agg
}
