package bvh

import (
	"fmt"

	"github.com/achilleasa/nagi/types"
)

// The kind of a linear BVH node. The kind selects the meaning of the three
// multipurpose node slots:
//
// - Interior:      [secondChildOffset, 0, splitAxis]
// - PrimitiveLeaf: [primitivesOffset, primitiveCount, unused]
// - InstanceLeaf:  [blasStartOffset, meshInstanceIndex, materialIndex]
//
// The left child of an interior node is always stored right after it.
type NodeKind uint8

const (
	Interior NodeKind = iota
	PrimitiveLeaf
	InstanceLeaf
)

func (k NodeKind) String() string {
	switch k {
	case Interior:
		return "interior"
	case PrimitiveLeaf:
		return "primitive leaf"
	case InstanceLeaf:
		return "instance leaf"
	}
	return fmt.Sprintf("NodeKind(%d)", uint8(k))
}

// A flattened, pointer-free BVH node. The multipurpose slots are only
// reachable through accessors that check the node kind.
type Node struct {
	Bounds types.Bounds3

	kind    NodeKind
	a, b, c uint32
}

// Create a leaf node that references count entries of the ordered primitive
// index list starting at offset.
func NewPrimitiveLeaf(bounds types.Bounds3, offset, count uint32) Node {
	return Node{Bounds: bounds, kind: PrimitiveLeaf, a: offset, b: count}
}

// Create an interior node. Its left child is the node that follows it.
func NewInteriorNode(bounds types.Bounds3, secondChild uint32, axis Axis) Node {
	return Node{Bounds: bounds, kind: Interior, a: secondChild, c: uint32(axis)}
}

// Create a TLAS leaf that points to the root of a mesh BLAS.
func NewInstanceLeaf(bounds types.Bounds3, blasOffset, instanceIndex, materialIndex uint32) Node {
	return Node{Bounds: bounds, kind: InstanceLeaf, a: blasOffset, b: instanceIndex, c: materialIndex}
}

func (n *Node) Kind() NodeKind { return n.kind }

func (n *Node) IsLeaf() bool { return n.kind != Interior }

func (n *Node) SecondChildOffset() uint32 {
	n.mustBe(Interior)
	return n.a
}

func (n *Node) SplitAxis() Axis {
	n.mustBe(Interior)
	return Axis(n.c)
}

func (n *Node) PrimitiveOffset() uint32 {
	n.mustBe(PrimitiveLeaf)
	return n.a
}

func (n *Node) PrimitiveCount() uint32 {
	n.mustBe(PrimitiveLeaf)
	return n.b
}

func (n *Node) BlasOffset() uint32 {
	n.mustBe(InstanceLeaf)
	return n.a
}

func (n *Node) InstanceIndex() uint32 {
	n.mustBe(InstanceLeaf)
	return n.b
}

func (n *Node) MaterialIndex() uint32 {
	n.mustBe(InstanceLeaf)
	return n.c
}

// Shift the node's references by the given node and primitive offsets.
// Interior nodes move their second child by nodeOffset; primitive leaves move
// their primitive range by primOffset. Instance leaves already hold absolute
// offsets and are left untouched.
func (n *Node) Offset(nodeOffset, primOffset uint32) {
	switch n.kind {
	case Interior:
		n.a += nodeOffset
	case PrimitiveLeaf:
		n.a += primOffset
	}
}

// Return the raw slot values. Used when packing nodes into GPU records.
func (n *Node) Slots() (a, b, c uint32) {
	return n.a, n.b, n.c
}

func (n *Node) mustBe(kind NodeKind) {
	if n.kind != kind {
		panic(fmt.Sprintf("bvh: accessing %s field on a %s node", kind, n.kind))
	}
}
