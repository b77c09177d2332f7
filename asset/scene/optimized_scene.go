package scene

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/achilleasa/nagi/asset/compiler/bvh"
	"github.com/achilleasa/nagi/types"
	"github.com/olekukonko/tablewriter"
)

// The kind discriminant stored in each packed BVH node.
type BvhNodeKind uint32

const (
	BvhInterior BvhNodeKind = iota
	BvhPrimitiveLeaf
	BvhInstanceLeaf
)

// Bvh nodes are packed into three 16-byte rows so they can be uploaded to a
// GPU buffer as-is. The meaning of the A, B and C fields depends on the node
// kind:
//
// - For interior nodes (BLAS and TLAS):
//   - A is the absolute index of the right child; the left child follows the node
//   - B is 0
//   - C is the split axis
// - For BLAS leafs:
//   - A is the offset of the first entry in PrimitiveVertexIndices
//   - B is the number of primitives in the leaf (> 0)
// - For TLAS leafs:
//   - A is the absolute index of the root node of the referenced mesh BLAS
//   - B is the mesh instance index (may be 0, check Kind)
//   - C is the material index
type BvhNode struct {
	Min types.Vec3
	A   uint32

	Max types.Vec3
	B   uint32

	C    uint32
	Kind BvhNodeKind

	padding [2]uint32
}

// Pack a linear BVH node into its GPU representation.
func PackBvhNode(node *bvh.Node) BvhNode {
	a, b, c := node.Slots()
	out := BvhNode{
		Min: node.Bounds.Min,
		A:   a,
		Max: node.Bounds.Max,
		B:   b,
		C:   c,
	}

	switch node.Kind() {
	case bvh.PrimitiveLeaf:
		out.Kind = BvhPrimitiveLeaf
	case bvh.InstanceLeaf:
		out.Kind = BvhInstanceLeaf
	default:
		out.Kind = BvhInterior
	}
	return out
}

// Returns true if the node is a leaf of either hierarchy level.
func (n *BvhNode) IsLeaf() bool {
	return n.Kind != BvhInterior
}

// The merged scene acceleration data. All BLAS node blocks are stored first,
// followed by the TLAS nodes starting at TlasStartOffset. Every node offset
// is an absolute index into BvhNodeList.
type Scene struct {
	BvhNodeList []BvhNode

	// Index of the TLAS root.
	TlasStartOffset uint32

	// Index of the BLAS root for each mesh.
	BlasStartOffsets []uint32

	// Vertex list indices for each primitive, in BLAS leaf order.
	PrimitiveVertexIndices [][3]uint32

	// Primitives are stored as an array of structs; the w components carry
	// the uv coordinates (u in VertexList, v in NormalList).
	VertexList []types.Vec4
	NormalList []types.Vec4

	// Per mesh instance data indexed by instance index. The inverse
	// transforms map world space rays into mesh space.
	InstanceTransforms []types.Mat4
	InverseTransforms  []types.Mat4
	MaterialIndices    []uint32
}

// Get the TLAS root node or nil if the scene has no instances.
func (sc *Scene) TlasRoot() *BvhNode {
	if int(sc.TlasStartOffset) >= len(sc.BvhNodeList) {
		return nil
	}
	return &sc.BvhNodeList[sc.TlasStartOffset]
}

// Build a tabular representation of scene statistics.
func (sc *Scene) Stats() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Asset Type", "Asset", "Count", "Size"})

	blasNodes := int(sc.TlasStartOffset)
	tlasNodes := len(sc.BvhNodeList) - blasNodes
	table.Append([]string{"Geometry", "---", "", fmtSize(sc.VertexList, sc.NormalList, sc.PrimitiveVertexIndices)})
	table.Append([]string{"", "Vertices", fmt.Sprint(len(sc.VertexList)), fmtSize(sc.VertexList)})
	table.Append([]string{"", "Normals", fmt.Sprint(len(sc.NormalList)), fmtSize(sc.NormalList)})
	table.Append([]string{"", "Vertex indices", fmt.Sprint(len(sc.PrimitiveVertexIndices)), fmtSize(sc.PrimitiveVertexIndices)})
	table.Append([]string{" ", " ", " ", " "})
	table.Append([]string{"BVH", "---", fmt.Sprint(len(sc.BvhNodeList)), fmtSize(sc.BvhNodeList)})
	table.Append([]string{"", fmt.Sprintf("BLAS (%d meshes)", len(sc.BlasStartOffsets)), fmt.Sprint(blasNodes), fmtSize(sc.BvhNodeList[:blasNodes])})
	table.Append([]string{"", "TLAS", fmt.Sprint(tlasNodes), fmtSize(sc.BvhNodeList[blasNodes:])})
	table.Append([]string{" ", " ", " ", " "})
	table.Append([]string{"Instances", "---", fmt.Sprint(len(sc.InstanceTransforms)), fmtSize(sc.InstanceTransforms, sc.InverseTransforms, sc.MaterialIndices)})
	table.Append([]string{"", "Transforms", fmt.Sprint(len(sc.InstanceTransforms)), fmtSize(sc.InstanceTransforms, sc.InverseTransforms)})
	table.Append([]string{"", "Mat. indices", fmt.Sprint(len(sc.MaterialIndices)), fmtSize(sc.MaterialIndices)})
	table.SetFooter([]string{"Total", " ", " ", strings.TrimLeft(fmtSize(sc.VertexList, sc.NormalList, sc.PrimitiveVertexIndices, sc.BvhNodeList, sc.InstanceTransforms, sc.InverseTransforms, sc.MaterialIndices), " ")})

	table.Render()
	return buf.String()
}

// Sum the total space used by a set of slices and return back a formatted
// value with the appropriate byte/kb/mb unit.
func fmtSize(items ...interface{}) string {
	var totalBytes float32 = 0.0
	for _, item := range items {
		t := reflect.TypeOf(item)
		v := reflect.ValueOf(item)
		if v.Len() == 0 {
			continue
		}

		totalBytes += float32(int(t.Elem().Size()) * v.Len())
	}

	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", int(totalBytes))
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", totalBytes/1e3)
	}
	return fmt.Sprintf("%5.1f mb", totalBytes/1e6)
}
