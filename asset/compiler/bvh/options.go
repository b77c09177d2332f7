package bvh

import (
	"fmt"
	"strings"
)

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis
)

// SplitMethod selects how the builder partitions a range of primitives.
type SplitMethod uint8

const (
	// Split at the midpoint of the centroid bounds.
	Middle SplitMethod = iota

	// Split so both halves get the same number of primitives.
	EqualCounts

	// Split at the bucket boundary with the lowest surface area heuristic cost.
	SAH
)

const (
	maxLeafSizeLimit = 255
	maxBucketCount   = 64
	minBucketCount   = 2
)

func (m SplitMethod) String() string {
	switch m {
	case Middle:
		return "middle"
	case EqualCounts:
		return "equal"
	case SAH:
		return "sah"
	}
	return fmt.Sprintf("SplitMethod(%d)", uint8(m))
}

// Parse a split method name as printed by SplitMethod.String().
func ParseSplitMethod(name string) (SplitMethod, error) {
	switch strings.ToLower(name) {
	case "middle":
		return Middle, nil
	case "equal", "equalcounts", "equal-counts":
		return EqualCounts, nil
	case "sah":
		return SAH, nil
	}
	return SAH, fmt.Errorf("bvh: unknown split method %q", name)
}

// Options control the shape of a built hierarchy.
type Options struct {
	// The max number of primitives a leaf may hold before a split is forced.
	MaxLeafSize int

	SplitMethod SplitMethod

	// The number of SAH buckets.
	Buckets int

	// The relative cost of traversing an interior node compared to a
	// single primitive intersection test.
	TraversalCost float32

	// When set, ranges whose centroids all coincide are split in half
	// instead of being collapsed into a single leaf. Hierarchies whose
	// leaves can only reference one item (the TLAS) need this.
	SplitCoincident bool
}

// Get the default builder options.
func DefaultOptions() Options {
	return Options{
		MaxLeafSize:   1,
		SplitMethod:   SAH,
		Buckets:       12,
		TraversalCost: 1.0,
	}
}

// Clamp option values to the ranges supported by the builder.
func (o Options) normalize() Options {
	if o.MaxLeafSize < 1 {
		o.MaxLeafSize = 1
	} else if o.MaxLeafSize > maxLeafSizeLimit {
		o.MaxLeafSize = maxLeafSizeLimit
	}

	if o.Buckets < minBucketCount {
		o.Buckets = minBucketCount
	} else if o.Buckets > maxBucketCount {
		o.Buckets = maxBucketCount
	}

	if o.TraversalCost < 0 {
		o.TraversalCost = 0
	}
	return o
}
