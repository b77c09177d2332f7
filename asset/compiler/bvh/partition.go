package bvh

// Reorder items so that all items matching pred come first and return the
// number of matching items. Relative order is not preserved.
func partition(items []primitiveInfo, pred func(*primitiveInfo) bool) int {
	first := 0
	for i := range items {
		if pred(&items[i]) {
			items[first], items[i] = items[i], items[first]
			first++
		}
	}
	return first
}

// Reorder items so that items[n] holds the element that would be there if
// the slice was sorted by centroid along axis; no item before n compares
// greater and no item after n compares less. Runs in expected linear time.
func nthElement(items []primitiveInfo, n int, axis int) {
	lo, hi := 0, len(items)-1
	for lo < hi {
		pivot := medianOfThree(
			items[lo].centroid[axis],
			items[lo+(hi-lo)/2].centroid[axis],
			items[hi].centroid[axis],
		)

		i, j := lo, hi
		for i <= j {
			for items[i].centroid[axis] < pivot {
				i++
			}
			for items[j].centroid[axis] > pivot {
				j--
			}
			if i <= j {
				items[i], items[j] = items[j], items[i]
				i++
				j--
			}
		}

		// [lo, j] <= pivot <= [i, hi]; anything in between equals pivot.
		switch {
		case n <= j:
			hi = j
		case n >= i:
			lo = i
		default:
			return
		}
	}
}

func medianOfThree(a, b, c float32) float32 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}
