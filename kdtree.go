package metabolate

import (
	"fmt"
	"math"
	"sort"
)

// treeDims is the dimensionality of the range tree: (m/z, RT).
const treeDims = 2

// rangeNode describes a single node in the range tree.
type rangeNode struct {
	idxStart, idxEnd int
	isLeaf           bool
	live             int // points in this subtree not yet removed
}

// rangeTree is a KD-tree over (m/z, retention time) answering axis-aligned
// box queries with point removal. Points are stored in a flat row-major
// array and reordered internally via an index permutation array.
//
// The tree is stored as a complete binary tree in array form:
//   - node i has children at 2*i+1 and 2*i+2
//   - node bounds are stored as min/max per dimension per node
//
// Removal is by tombstone: a removed point is marked dead and live counts
// are decremented along its root-to-leaf path, so queries skip dead points
// and prune emptied subtrees. Removed points never reappear in results.
type rangeTree struct {
	data     []float64 // flat row-major point data (n * treeDims)
	n        int
	leafSize int
	idxArray []int // permutation: tree-order position → original index
	posArray []int // inverse permutation: original index → tree-order position
	alive    []bool
	nodes    []rangeNode
	// nodeBoundsMin[node*treeDims + d] = min value of dimension d in node
	nodeBoundsMin []float64
	nodeBoundsMax []float64
}

// newRangeTree builds a range tree from flat row-major (m/z, RT) data with
// n points. leafSize controls the max points per leaf node.
func newRangeTree(data []float64, n, leafSize int) *rangeTree {
	if leafSize < 1 {
		leafSize = 1
	}

	dataCopy := make([]float64, len(data))
	copy(dataCopy, data)
	idxArray := make([]int, n)
	for i := range idxArray {
		idxArray[i] = i
	}

	maxNodes := rangeMaxNodes(n, leafSize)

	t := &rangeTree{
		data:          dataCopy,
		n:             n,
		leafSize:      leafSize,
		idxArray:      idxArray,
		posArray:      make([]int, n),
		alive:         make([]bool, n),
		nodes:         make([]rangeNode, maxNodes),
		nodeBoundsMin: make([]float64, maxNodes*treeDims),
		nodeBoundsMax: make([]float64, maxNodes*treeDims),
	}
	for i := range t.alive {
		t.alive[i] = true
	}

	if n > 0 {
		t.buildNode(0, 0, n)
		for pos, idx := range t.idxArray {
			t.posArray[idx] = pos
		}
	}

	return t
}

// newFeatureTree builds a range tree over the (m/z, RT) coordinates of fs.
// Tree point i corresponds to feature index i in fs.
func newFeatureTree(fs *FeatureSet, leafSize int) *rangeTree {
	data := make([]float64, fs.Len()*treeDims)
	for i := 0; i < fs.Len(); i++ {
		f := fs.At(i)
		data[i*treeDims] = f.Mz
		data[i*treeDims+1] = f.RT
	}
	return newRangeTree(data, fs.Len(), leafSize)
}

// rangeMaxNodes returns an upper bound on the number of nodes needed for a
// binary tree with n points and the given leaf size.
func rangeMaxNodes(n, leafSize int) int {
	if n == 0 {
		return 1
	}
	// Depth of tree: ceil(log2(ceil(n/leafSize))) + 1.
	// Number of nodes in a complete binary tree of depth d = 2^(d+1) - 1.
	leaves := (n + leafSize - 1) / leafSize
	depth := 0
	v := 1
	for v < leaves {
		v *= 2
		depth++
	}
	return (1 << (depth + 1)) - 1 + 2 // +2 for safety margin
}

// buildNode recursively builds the tree for points in idxArray[start:end].
func (t *rangeTree) buildNode(nodeID, start, end int) {
	// Grow arrays if needed (shouldn't happen with good upper bound).
	for nodeID >= len(t.nodes) {
		t.nodes = append(t.nodes, rangeNode{})
		t.nodeBoundsMin = append(t.nodeBoundsMin, make([]float64, treeDims)...)
		t.nodeBoundsMax = append(t.nodeBoundsMax, make([]float64, treeDims)...)
	}

	t.computeNodeBounds(nodeID, start, end)

	count := end - start
	if count <= t.leafSize {
		t.nodes[nodeID] = rangeNode{idxStart: start, idxEnd: end, isLeaf: true, live: count}
		return
	}

	// Split on the dimension with greatest spread.
	splitDim := 0
	maxSpread := -1.0
	for d := 0; d < treeDims; d++ {
		spread := t.nodeBoundsMax[nodeID*treeDims+d] - t.nodeBoundsMin[nodeID*treeDims+d]
		if spread > maxSpread {
			maxSpread = spread
			splitDim = d
		}
	}

	t.sortByDimension(start, end, splitDim)
	mid := start + count/2

	t.nodes[nodeID] = rangeNode{idxStart: start, idxEnd: end, isLeaf: false, live: count}

	t.buildNode(2*nodeID+1, start, mid)
	t.buildNode(2*nodeID+2, mid, end)
}

// computeNodeBounds computes min/max per dimension for points idxArray[start:end].
func (t *rangeTree) computeNodeBounds(nodeID, start, end int) {
	base := nodeID * treeDims
	for d := 0; d < treeDims; d++ {
		t.nodeBoundsMin[base+d] = math.Inf(1)
		t.nodeBoundsMax[base+d] = math.Inf(-1)
	}
	for i := start; i < end; i++ {
		ptIdx := t.idxArray[i]
		for d := 0; d < treeDims; d++ {
			v := t.data[ptIdx*treeDims+d]
			if v < t.nodeBoundsMin[base+d] {
				t.nodeBoundsMin[base+d] = v
			}
			if v > t.nodeBoundsMax[base+d] {
				t.nodeBoundsMax[base+d] = v
			}
		}
	}
}

// sortByDimension sorts idxArray[start:end] by the given dimension,
// breaking value ties by original index so construction is deterministic.
func (t *rangeTree) sortByDimension(start, end, dim int) {
	sub := t.idxArray[start:end]
	data := t.data
	sort.Slice(sub, func(i, j int) bool {
		a, b := data[sub[i]*treeDims+dim], data[sub[j]*treeDims+dim]
		if a != b {
			return a < b
		}
		return sub[i] < sub[j]
	})
}

// Live returns the number of points not yet removed.
func (t *rangeTree) Live() int {
	if t.n == 0 {
		return 0
	}
	return t.nodes[0].live
}

// Contains reports whether original point index i is still in the tree.
func (t *rangeTree) Contains(i int) bool {
	return i >= 0 && i < t.n && t.alive[i]
}

// Remove tombstones original point index i so it no longer appears in
// query results. Removing an out-of-range or already-removed point is an
// *InternalConsistencyError: basketing never consumes a feature twice,
// so a double removal means the assignment state is corrupt.
func (t *rangeTree) Remove(i int) error {
	if i < 0 || i >= t.n {
		return &InternalConsistencyError{
			Op:     "rangeTree.Remove",
			Detail: fmt.Sprintf("point index %d out of range [0,%d)", i, t.n),
		}
	}
	if !t.alive[i] {
		return &InternalConsistencyError{
			Op:     "rangeTree.Remove",
			Detail: fmt.Sprintf("point %d already removed", i),
		}
	}
	t.alive[i] = false

	// Walk from the root to the leaf holding position posArray[i],
	// decrementing live counts. Children partition a node's contiguous
	// tree-order range, so the containing child is found by range test.
	pos := t.posArray[i]
	nodeID := 0
	for {
		t.nodes[nodeID].live--
		if t.nodes[nodeID].isLeaf {
			break
		}
		left := 2*nodeID + 1
		if pos < t.nodes[left].idxEnd {
			nodeID = left
		} else {
			nodeID = 2*nodeID + 2
		}
	}
	return nil
}

// Query appends to dst the original indices of all live points p with
// loMz <= p.mz <= hiMz and loRT <= p.rt <= hiRT, in ascending index
// order, and returns the extended slice. Bounds are inclusive: a point
// exactly on the window edge is within tolerance.
func (t *rangeTree) Query(dst []int, loMz, hiMz, loRT, hiRT float64) []int {
	if t.n == 0 {
		return dst
	}
	mark := len(dst)
	dst = t.queryNode(dst, 0, loMz, hiMz, loRT, hiRT)
	found := dst[mark:]
	sort.Ints(found)
	return dst
}

func (t *rangeTree) queryNode(dst []int, nodeID int, loMz, hiMz, loRT, hiRT float64) []int {
	node := t.nodes[nodeID]
	if node.live == 0 {
		return dst
	}

	// Prune subtrees whose bounding box misses the query box.
	base := nodeID * treeDims
	if t.nodeBoundsMin[base] > hiMz || t.nodeBoundsMax[base] < loMz ||
		t.nodeBoundsMin[base+1] > hiRT || t.nodeBoundsMax[base+1] < loRT {
		return dst
	}

	if node.isLeaf {
		for i := node.idxStart; i < node.idxEnd; i++ {
			ptIdx := t.idxArray[i]
			if !t.alive[ptIdx] {
				continue
			}
			mz := t.data[ptIdx*treeDims]
			rt := t.data[ptIdx*treeDims+1]
			if mz >= loMz && mz <= hiMz && rt >= loRT && rt <= hiRT {
				dst = append(dst, ptIdx)
			}
		}
		return dst
	}

	dst = t.queryNode(dst, 2*nodeID+1, loMz, hiMz, loRT, hiRT)
	dst = t.queryNode(dst, 2*nodeID+2, loMz, hiMz, loRT, hiRT)
	return dst
}

// ppmHalfWidth returns the absolute m/z half-window for the given mass at
// a relative parts-per-million tolerance. The window scales with the
// query mass: heavier ions get proportionally wider windows.
func ppmHalfWidth(mz, ppm float64) float64 {
	return mz * ppm * 1e-6
}
