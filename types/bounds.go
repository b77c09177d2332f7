package types

import (
	"github.com/chewxy/math32"
)

// Bounds3 is an axis aligned bounding box. An empty box has Min set to +Inf
// and Max set to -Inf so that growing it by any point or box yields that
// point or box.
type Bounds3 struct {
	Min Vec3
	Max Vec3
}

// Create an empty bounding box.
func EmptyBounds3() Bounds3 {
	return Bounds3{
		Min: Splat3(math32.Inf(1)),
		Max: Splat3(math32.Inf(-1)),
	}
}

// Create a zero-volume bounding box enclosing a single point.
func NewBounds3(p Vec3) Bounds3 {
	return Bounds3{Min: p, Max: p}
}

// Create the bounding box enclosing two points.
func NewBounds3FromPoints(p1, p2 Vec3) Bounds3 {
	return Bounds3{Min: MinVec3(p1, p2), Max: MaxVec3(p1, p2)}
}

// Returns true if the box contains no points.
func (b Bounds3) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Grow box to include point p.
func (b *Bounds3) Grow(p Vec3) {
	b.Min = MinVec3(b.Min, p)
	b.Max = MaxVec3(b.Max, p)
}

// Grow box to include another box.
func (b *Bounds3) GrowBox(other Bounds3) {
	b.Min = MinVec3(b.Min, other.Min)
	b.Max = MaxVec3(b.Max, other.Max)
}

// Get box center.
func (b Bounds3) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Get the vector from Min to Max.
func (b Bounds3) Diagonal() Vec3 {
	return b.Max.Sub(b.Min)
}

// Get the box surface area. Empty boxes report +Inf.
func (b Bounds3) SurfaceArea() float32 {
	if b.IsEmpty() {
		return math32.Inf(1)
	}
	d := b.Diagonal()
	return 2 * (d[0]*d[1] + d[0]*d[2] + d[1]*d[2])
}

// Get the index of the axis with the longest extent. Ties prefer x over y
// over z.
func (b Bounds3) MaximumExtent() int {
	d := b.Diagonal()
	switch {
	case d[0] >= d[1] && d[0] >= d[2]:
		return 0
	case d[1] >= d[2]:
		return 1
	default:
		return 2
	}
}

// Check whether p lies inside the box (inclusive).
func (b Bounds3) Contains(p Vec3) bool {
	return b.Min[0] <= p[0] && p[0] <= b.Max[0] &&
		b.Min[1] <= p[1] && p[1] <= b.Max[1] &&
		b.Min[2] <= p[2] && p[2] <= b.Max[2]
}

// Check whether other lies entirely inside the box. Empty boxes are contained
// by every box.
func (b Bounds3) ContainsBox(other Bounds3) bool {
	if other.IsEmpty() {
		return true
	}
	return b.Contains(other.Min) && b.Contains(other.Max)
}

// Map p into the [0, 1]^3 local space of the box. Axes with zero extent are
// left as offsets from Min.
func (b Bounds3) LocalNormalizedCoord(p Vec3) Vec3 {
	o := p.Sub(b.Min)
	for axis := 0; axis < 3; axis++ {
		if b.Max[axis] > b.Min[axis] {
			o[axis] /= b.Max[axis] - b.Min[axis]
		}
	}
	return o
}

// Transform the box by an affine matrix and return the box enclosing the
// result. Instead of transforming all 8 corners, each column axis contributes
// the [min, max] interval of its products with the box extents along that
// axis; the intervals are summed on top of the translation.
func (b Bounds3) Transform(m Mat4) Bounds3 {
	if b.IsEmpty() {
		return b
	}

	translation := m.Col(3)
	out := Bounds3{Min: translation, Max: translation}
	for axis := 0; axis < 3; axis++ {
		col := m.Col(axis)
		for i := 0; i < 3; i++ {
			lo := col[i] * b.Min[axis]
			hi := col[i] * b.Max[axis]
			if lo > hi {
				lo, hi = hi, lo
			}
			out.Min[i] += lo
			out.Max[i] += hi
		}
	}
	return out
}

// Return the union of a box and a point.
func Union(b Bounds3, p Vec3) Bounds3 {
	return Bounds3{Min: MinVec3(b.Min, p), Max: MaxVec3(b.Max, p)}
}

// Return the union of two boxes.
func UnionBox(b1, b2 Bounds3) Bounds3 {
	return Bounds3{Min: MinVec3(b1.Min, b2.Min), Max: MaxVec3(b1.Max, b2.Max)}
}

// Return the intersection of two boxes. The result is empty if the boxes
// do not overlap.
func Intersection(b1, b2 Bounds3) Bounds3 {
	return Bounds3{Min: MaxVec3(b1.Min, b2.Min), Max: MinVec3(b1.Max, b2.Max)}
}

// Check whether two boxes overlap.
func Overlaps(b1, b2 Bounds3) bool {
	for axis := 0; axis < 3; axis++ {
		if b1.Min[axis] > b2.Max[axis] || b2.Min[axis] > b1.Max[axis] {
			return false
		}
	}
	return true
}
