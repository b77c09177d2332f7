package input

import (
	"testing"

	"github.com/achilleasa/nagi/types"
)

func TestMeshAppend(t *testing.T) {
	m := NewMesh("tri")
	m.Append(&Primitive{
		Vertices: [3]types.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 2, -1}},
		Normals:  [3]types.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		UVs:      [3]types.Vec2{{0, 0.25}, {1, 0.5}, {0.5, 1}},
	})

	if m.TriangleCount() != 1 {
		t.Fatalf("expected 1 triangle; got %d", m.TriangleCount())
	}
	if len(m.Vertices) != 3 || len(m.Normals) != 3 {
		t.Fatalf("expected 3 vertices and normals; got %d and %d", len(m.Vertices), len(m.Normals))
	}

	// uv is packed into the w components
	if m.Vertices[1][3] != 1 || m.Normals[1][3] != 0.5 {
		t.Fatalf("expected packed uv (1, 0.5); got (%f, %f)", m.Vertices[1][3], m.Normals[1][3])
	}

	exp := types.NewBounds3FromPoints(types.XYZ(0, 0, -1), types.XYZ(1, 2, 0))
	if got := m.BBox(); got != exp {
		t.Fatalf("expected mesh bbox %v; got %v", exp, got)
	}
	if got := m.TriangleBounds()[0]; got != exp {
		t.Fatalf("expected triangle bbox %v; got %v", exp, got)
	}
}

func TestMeshBBoxInvalidation(t *testing.T) {
	m := NewMesh("quad")
	m.Append(&Primitive{Vertices: [3]types.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}})
	first := m.BBox()

	m.Append(&Primitive{Vertices: [3]types.Vec3{{0, 0, 0}, {5, 5, 5}, {1, 1, 0}}})
	second := m.BBox()

	if first == second {
		t.Fatal("expected bbox to be recalculated after appending a primitive")
	}
	if second.Max != types.XYZ(5, 5, 5) {
		t.Fatalf("expected bbox max (5, 5, 5); got %v", second.Max)
	}
}

func TestEmptyMeshBBox(t *testing.T) {
	m := NewMesh("empty")
	if !m.BBox().IsEmpty() {
		t.Fatalf("expected empty mesh to have an empty bbox; got %v", m.BBox())
	}
	if len(m.TriangleBounds()) != 0 {
		t.Fatalf("expected no triangle bounds; got %d", len(m.TriangleBounds()))
	}
}
