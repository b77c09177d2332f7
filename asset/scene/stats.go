package scene

// Shape statistics for a single hierarchy of the merged node list.
type HierarchyStats struct {
	Nodes      int
	Leaves     int
	MaxDepth   int
	Primitives int
}

// Walk the hierarchy rooted at the given node and collect its statistics.
// The walk does not descend into the BLAS referenced by TLAS leaves.
func (sc *Scene) HierarchyStats(root uint32) HierarchyStats {
	var stats HierarchyStats
	if int(root) >= len(sc.BvhNodeList) {
		return stats
	}

	type entry struct {
		index uint32
		depth int
	}
	stack := []entry{{root, 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &sc.BvhNodeList[top.index]
		stats.Nodes++
		if top.depth > stats.MaxDepth {
			stats.MaxDepth = top.depth
		}

		switch node.Kind {
		case BvhInterior:
			stack = append(stack, entry{node.A, top.depth + 1}, entry{top.index + 1, top.depth + 1})
		case BvhPrimitiveLeaf:
			stats.Leaves++
			stats.Primitives += int(node.B)
		case BvhInstanceLeaf:
			stats.Leaves++
			stats.Primitives++
		}
	}
	return stats
}
