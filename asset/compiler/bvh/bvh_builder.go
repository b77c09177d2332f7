package bvh

import (
	"time"

	"github.com/achilleasa/nagi/log"
	"github.com/achilleasa/nagi/types"
	"github.com/chewxy/math32"
)

// Build-time information about a single primitive.
type primitiveInfo struct {
	index    uint32
	bounds   types.Bounds3
	centroid types.Vec3
}

// A SAH bucket along the split axis.
type bucket struct {
	count  int
	bounds types.Bounds3
}

// Stats collected while building a hierarchy.
type Stats struct {
	Primitives        int
	Nodes             int
	Leaves            int
	MaxDepth          int
	MaxLeafPrimitives int
	BuildTime         time.Duration
}

// A BVH flattened into a depth-first node list. Leaves reference ranges of
// PrimitiveIndices which in turn hold indices into the input bounds list.
type BVH struct {
	Nodes            []Node
	PrimitiveIndices []uint32
	Stats            Stats
}

// Returns true if the hierarchy has no nodes.
func (bvh *BVH) Empty() bool {
	return bvh == nil || len(bvh.Nodes) == 0
}

// Get the bounding box of the root node or an empty box if the hierarchy
// has no nodes.
func (bvh *BVH) WorldBound() types.Bounds3 {
	if bvh.Empty() {
		return types.EmptyBounds3()
	}
	return bvh.Nodes[0].Bounds
}

type builder struct {
	logger log.Logger
	opts   Options

	// Primitive info; partitioned in place while building.
	prims []primitiveInfo

	// Nodes are pre-allocated to the 2N-1 upper bound and trimmed once the
	// build completes.
	nodes     []Node
	nodeCount int

	orderedPrims []uint32

	stats Stats
}

// Build a BVH over a list of primitive bounding boxes. The index of each box
// in the list is the primitive id stored in the resulting PrimitiveIndices.
// An empty list yields an empty BVH.
func Build(bounds []types.Bounds3, opts Options) *BVH {
	if len(bounds) == 0 {
		return &BVH{}
	}

	b := &builder{
		logger:       log.New("bvh builder"),
		opts:         opts.normalize(),
		prims:        make([]primitiveInfo, len(bounds)),
		nodes:        make([]Node, 2*len(bounds)-1),
		orderedPrims: make([]uint32, 0, len(bounds)),
		stats: Stats{
			Primitives: len(bounds),
		},
	}

	for index, bbox := range bounds {
		b.prims[index] = primitiveInfo{
			index:    uint32(index),
			bounds:   bbox,
			centroid: bbox.Center(),
		}
	}

	start := time.Now()
	b.build(0, len(b.prims), 0)
	b.nodes = b.nodes[:b.nodeCount]
	b.stats.Nodes = b.nodeCount
	b.stats.BuildTime = time.Since(start)

	b.logger.Debugf(
		"BVH build time: %d ms, primitives: %d, maxDepth: %d, nodes: %d, leafs: %d, split: %s",
		b.stats.BuildTime.Nanoseconds()/1e6,
		b.stats.Primitives, b.stats.MaxDepth, b.stats.Nodes, b.stats.Leaves, b.opts.SplitMethod,
	)

	return &BVH{
		Nodes:            b.nodes,
		PrimitiveIndices: b.orderedPrims,
		Stats:            b.stats,
	}
}

// Build the subtree for prims[start:end] and return the index of its root.
// The root is allocated before its children so the left child always ends up
// at root+1.
func (b *builder) build(start, end, depth int) uint32 {
	if start >= end {
		b.logger.Panicf("bvh: attempted to build node for empty primitive range [%d, %d)", start, end)
	}

	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}

	nodeIndex := b.nodeCount
	b.nodeCount++

	bounds := types.EmptyBounds3()
	for i := start; i < end; i++ {
		bounds.GrowBox(b.prims[i].bounds)
	}

	count := end - start
	if count == 1 {
		return b.createLeaf(nodeIndex, bounds, start, end)
	}

	centroidBounds := types.EmptyBounds3()
	for i := start; i < end; i++ {
		centroidBounds.Grow(b.prims[i].centroid)
	}
	axis := centroidBounds.MaximumExtent()

	var mid int
	if centroidBounds.Min[axis] == centroidBounds.Max[axis] {
		// All centroids coincide; no split can separate them.
		if !b.opts.SplitCoincident || count <= b.opts.MaxLeafSize {
			return b.createLeaf(nodeIndex, bounds, start, end)
		}
		mid = (start + end) / 2
	} else {
		var makeLeaf bool
		mid, makeLeaf = b.split(start, end, axis, bounds, centroidBounds)
		if makeLeaf {
			return b.createLeaf(nodeIndex, bounds, start, end)
		}
	}

	if mid <= start || mid >= end {
		b.logger.Panicf("bvh: split of range [%d, %d) produced an empty partition at %d", start, end, mid)
	}

	b.build(start, mid, depth+1)
	rightIndex := b.build(mid, end, depth+1)
	b.nodes[nodeIndex] = NewInteriorNode(bounds, rightIndex, Axis(axis))

	return uint32(nodeIndex)
}

// Partition prims[start:end] along axis using the configured split method.
// Returns the partition point or true if the range should become a leaf.
func (b *builder) split(start, end, axis int, bounds, centroidBounds types.Bounds3) (mid int, makeLeaf bool) {
	switch b.opts.SplitMethod {
	case Middle:
		pmid := centroidBounds.Center()[axis]
		mid = start + partition(b.prims[start:end], func(pi *primitiveInfo) bool {
			return pi.centroid[axis] < pmid
		})
		if mid != start && mid != end {
			return mid, false
		}

		// Heavily overlapping boxes may all land on one side.
		fallthrough
	case EqualCounts:
		return b.splitEqualCounts(start, end, axis), false
	default:
		// Binning is not worth it for tiny ranges.
		if end-start <= 2 {
			return b.splitEqualCounts(start, end, axis), false
		}
		return b.splitSAH(start, end, axis, bounds, centroidBounds)
	}
}

// Select the median primitive along axis so both halves get the same number
// of primitives (+/- 1).
func (b *builder) splitEqualCounts(start, end, axis int) int {
	mid := (start + end) / 2
	nthElement(b.prims[start:end], mid-start, axis)
	return mid
}

// Bin primitives into buckets along axis, pick the bucket boundary with the
// lowest SAH cost and decide whether splitting beats a leaf.
func (b *builder) splitSAH(start, end, axis int, bounds, centroidBounds types.Bounds3) (mid int, makeLeaf bool) {
	numBuckets := b.opts.Buckets
	count := end - start

	buckets := make([]bucket, numBuckets)
	for i := range buckets {
		buckets[i].bounds = types.EmptyBounds3()
	}
	for i := start; i < end; i++ {
		bi := b.bucketIndex(centroidBounds, b.prims[i].centroid, axis)
		buckets[bi].count++
		buckets[bi].bounds.GrowBox(b.prims[i].bounds)
	}

	// Right-to-left sweep: aggregates for buckets (i, numBuckets).
	rightBounds := make([]types.Bounds3, numBuckets-1)
	rightCounts := make([]int, numBuckets-1)
	acc := types.EmptyBounds3()
	accCount := 0
	for i := numBuckets - 1; i > 0; i-- {
		acc.GrowBox(buckets[i].bounds)
		accCount += buckets[i].count
		rightBounds[i-1] = acc
		rightCounts[i-1] = accCount
	}

	// Left-to-right sweep evaluating the cost of splitting after bucket i.
	parentArea := bounds.SurfaceArea()
	leftBounds := types.EmptyBounds3()
	leftCount := 0
	minCost := math32.Inf(1)
	minCostBucket := 0
	for i := 0; i < numBuckets-1; i++ {
		leftBounds.GrowBox(buckets[i].bounds)
		leftCount += buckets[i].count

		var cost float32
		if parentArea > 0 {
			cost = b.opts.TraversalCost +
				(weightedArea(leftCount, leftBounds)+weightedArea(rightCounts[i], rightBounds[i]))/parentArea
		} else {
			cost = b.opts.TraversalCost + float32(count)
		}

		if cost < minCost {
			minCost = cost
			minCostBucket = i
		}
	}

	// A leaf costs one intersection test per primitive.
	leafCost := float32(count)
	if count <= b.opts.MaxLeafSize && minCost >= leafCost {
		return 0, true
	}

	mid = start + partition(b.prims[start:end], func(pi *primitiveInfo) bool {
		return b.bucketIndex(centroidBounds, pi.centroid, axis) <= minCostBucket
	})
	return mid, false
}

// Map a centroid to its SAH bucket. Centroids on the upper boundary go to the
// last bucket.
func (b *builder) bucketIndex(centroidBounds types.Bounds3, centroid types.Vec3, axis int) int {
	numBuckets := b.opts.Buckets
	bi := int(float32(numBuckets) * centroidBounds.LocalNormalizedCoord(centroid)[axis])
	if bi < 0 || bi > numBuckets {
		b.logger.Panicf("bvh: bucket index %d out of range [0, %d]", bi, numBuckets)
	}
	if bi == numBuckets {
		bi = numBuckets - 1
	}
	return bi
}

// Emit a leaf for prims[start:end] at nodeIndex.
func (b *builder) createLeaf(nodeIndex int, bounds types.Bounds3, start, end int) uint32 {
	offset := uint32(len(b.orderedPrims))
	for i := start; i < end; i++ {
		b.orderedPrims = append(b.orderedPrims, b.prims[i].index)
	}

	count := end - start
	b.nodes[nodeIndex] = NewPrimitiveLeaf(bounds, offset, uint32(count))

	b.stats.Leaves++
	if count > b.stats.MaxLeafPrimitives {
		b.stats.MaxLeafPrimitives = count
	}

	return uint32(nodeIndex)
}

func weightedArea(count int, bounds types.Bounds3) float32 {
	if count == 0 {
		return 0
	}
	return float32(count) * bounds.SurfaceArea()
}
