package input

import (
	"github.com/achilleasa/nagi/types"
)

// A triangle primitive.
type Primitive struct {
	Vertices [3]types.Vec3
	Normals  [3]types.Vec3
	UVs      [3]types.Vec2
}

// A mesh stores its triangles as flattened vertex and normal lists with 3
// consecutive entries per triangle. The uv coordinates are packed into the
// w component of the vertex (u) and normal (v) entries.
type Mesh struct {
	Name     string
	Vertices []types.Vec4
	Normals  []types.Vec4

	bbox            types.Bounds3
	bboxNeedsUpdate bool
}

// Create a new mesh.
func NewMesh(name string) *Mesh {
	return &Mesh{
		Name:            name,
		Vertices:        make([]types.Vec4, 0),
		Normals:         make([]types.Vec4, 0),
		bboxNeedsUpdate: true,
	}
}

// Append a triangle to the mesh.
func (m *Mesh) Append(prim *Primitive) {
	for v := 0; v < 3; v++ {
		m.Vertices = append(m.Vertices, prim.Vertices[v].Vec4(prim.UVs[v][0]))
		m.Normals = append(m.Normals, prim.Normals[v].Vec4(prim.UVs[v][1]))
	}
	m.bboxNeedsUpdate = true
}

// Get the number of triangles in the mesh.
func (m *Mesh) TriangleCount() int {
	return len(m.Vertices) / 3
}

// Get the vertex positions of a triangle.
func (m *Mesh) Triangle(index int) [3]types.Vec3 {
	return [3]types.Vec3{
		m.Vertices[3*index+0].Vec3(),
		m.Vertices[3*index+1].Vec3(),
		m.Vertices[3*index+2].Vec3(),
	}
}

// Calculate the AABB of each triangle. The box for triangle i is stored at
// index i.
func (m *Mesh) TriangleBounds() []types.Bounds3 {
	out := make([]types.Bounds3, m.TriangleCount())
	for index := range out {
		tri := m.Triangle(index)
		out[index] = types.NewBounds3(tri[0])
		out[index].Grow(tri[1])
		out[index].Grow(tri[2])
	}
	return out
}

// Get mesh bounding box.
func (m *Mesh) BBox() types.Bounds3 {
	if m.bboxNeedsUpdate {
		m.bbox = types.EmptyBounds3()
		for _, v := range m.Vertices {
			m.bbox.Grow(v.Vec3())
		}
		m.bboxNeedsUpdate = false
	}

	return m.bbox
}

// A mesh instance places a mesh in the scene using a transformation matrix
// and assigns a material to it.
type MeshInstance struct {
	Name          string
	MeshIndex     uint32
	MaterialIndex uint32
	Transform     types.Mat4
}

// The scene contains all elements that are processed by the scene compiler.
type Scene struct {
	Meshes        []*Mesh
	MeshInstances []*MeshInstance
}

// Create a new scene.
func NewScene() *Scene {
	return &Scene{
		Meshes:        make([]*Mesh, 0),
		MeshInstances: make([]*MeshInstance, 0),
	}
}

// Get the total number of triangles across all meshes.
func (sc *Scene) TriangleCount() int {
	total := 0
	for _, mesh := range sc.Meshes {
		total += mesh.TriangleCount()
	}
	return total
}
