package compiler

import (
	"bytes"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/achilleasa/nagi/asset/compiler/bvh"
	"github.com/achilleasa/nagi/asset/compiler/input"
	"github.com/achilleasa/nagi/asset/scene"
	"github.com/achilleasa/nagi/types"
)

func TestSingleInstanceScene(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, gridMesh("grid", 4))
	raw.MeshInstances = append(raw.MeshInstances, &input.MeshInstance{Name: "grid", Transform: types.Ident4()})

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	if c.State() != Ready {
		t.Fatalf("expected state %s; got %s", Ready, c.State())
	}

	nodes := c.Nodes()
	blasNodes := len(c.BLAS(0).Nodes)
	if c.TlasStartOffset() != uint32(blasNodes) {
		t.Fatalf("expected TLAS start offset %d; got %d", blasNodes, c.TlasStartOffset())
	}
	if len(nodes) != blasNodes+1 {
		t.Fatalf("expected %d nodes; got %d", blasNodes+1, len(nodes))
	}
	if got := c.BlasStartOffsets(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected BLAS start offsets [0]; got %v", got)
	}

	root := nodes[c.TlasStartOffset()]
	if root.Kind() != bvh.InstanceLeaf {
		t.Fatalf("expected TLAS root to be an instance leaf; got %s", root.Kind())
	}
	if root.BlasOffset() != 0 || root.InstanceIndex() != 0 {
		t.Fatalf("expected TLAS leaf to reference BLAS 0 and instance 0; got %d and %d", root.BlasOffset(), root.InstanceIndex())
	}
	if root.Bounds != nodes[0].Bounds {
		t.Fatalf("expected TLAS leaf bounds %v to match BLAS root bounds %v", root.Bounds, nodes[0].Bounds)
	}
}

func TestCompositionInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	raw := randomScene(rng, 4, 6)

	for _, method := range []bvh.SplitMethod{bvh.Middle, bvh.EqualCounts, bvh.SAH} {
		opts := testOptions()
		opts.Blas.SplitMethod = method
		opts.Blas.MaxLeafSize = 4
		opts.Tlas.SplitMethod = method

		c := NewComposer(raw, opts)
		if err := c.Compose(); err != nil {
			t.Fatal(err)
		}
		checkComposition(t, c, raw)
	}
}

func TestRebuildTLASKeepsBLAS(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	raw := randomScene(rng, 3, 5)

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	before := c.Scene()
	blasBytes := scene.EncodeBvhNodes(before.BvhNodeList[:before.TlasStartOffset])
	indexBytes := scene.EncodeVertexIndices(before.PrimitiveVertexIndices)

	// Move every instance and drop the last one
	for index, mi := range raw.MeshInstances {
		mi.Transform = types.Translate4(types.XYZ(float32(10*index), -5, 3)).Mul4(mi.Transform)
	}
	raw.MeshInstances = raw.MeshInstances[:len(raw.MeshInstances)-1]

	if err := c.RebuildTLAS(); err != nil {
		t.Fatal(err)
	}
	if c.State() != Ready {
		t.Fatalf("expected state %s; got %s", Ready, c.State())
	}

	after := c.Scene()
	if after.TlasStartOffset != before.TlasStartOffset {
		t.Fatalf("expected TLAS start offset to remain %d; got %d", before.TlasStartOffset, after.TlasStartOffset)
	}
	if !bytes.Equal(blasBytes, scene.EncodeBvhNodes(after.BvhNodeList[:after.TlasStartOffset])) {
		t.Fatal("expected BLAS node blocks to be unchanged after TLAS rebuild")
	}
	if !bytes.Equal(indexBytes, scene.EncodeVertexIndices(after.PrimitiveVertexIndices)) {
		t.Fatal("expected vertex indices to be unchanged after TLAS rebuild")
	}
	if len(after.InstanceTransforms) != len(raw.MeshInstances) {
		t.Fatalf("expected %d instance transforms; got %d", len(raw.MeshInstances), len(after.InstanceTransforms))
	}
	for index, mi := range raw.MeshInstances {
		if after.InstanceTransforms[index] != mi.Transform {
			t.Fatalf("expected transform for instance %d to be refreshed", index)
		}
	}

	checkComposition(t, c, raw)
}

func TestOperationOrder(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, gridMesh("grid", 3))
	raw.MeshInstances = append(raw.MeshInstances, &input.MeshInstance{Transform: types.Ident4()})

	c := NewComposer(raw, testOptions())
	for _, op := range []func() error{c.IntegrateBLAS, c.ExpandVertexIndices, c.BuildTLAS, c.IntegrateTLAS, c.RebuildTLAS} {
		if err := op(); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState for operation on empty composer; got %v", err)
		}
	}

	steps := []struct {
		op    func() error
		state State
	}{
		{c.BuildBLAS, BLASBuilt},
		{c.IntegrateBLAS, BLASIntegrated},
		{c.BuildTLAS, TLASBuilt},
		{c.IntegrateTLAS, TLASIntegrated},
		{c.ExpandVertexIndices, Ready},
		{c.RebuildTLAS, Ready},
	}
	for index, step := range steps {
		if err := step.op(); err != nil {
			t.Fatalf("[step %d] unexpected error: %v", index, err)
		}
		if c.State() != step.state {
			t.Fatalf("[step %d] expected state %s; got %s", index, step.state, c.State())
		}
	}

	if err := c.IntegrateBLAS(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState when integrating BLAS in ready state; got %v", err)
	}

	// A full rebuild is allowed from any state
	if err := c.BuildBLAS(); err != nil {
		t.Fatal(err)
	}
	if c.State() != BLASBuilt || len(c.Nodes()) != 0 {
		t.Fatalf("expected full rebuild to reset merged data; got state %s and %d nodes", c.State(), len(c.Nodes()))
	}
}

func TestBusyComposer(t *testing.T) {
	raw := input.NewScene()
	c := NewComposer(raw, testOptions())

	c.busy.Store(true)
	if err := c.Compose(); err != ErrBusy {
		t.Fatalf("expected ErrBusy; got %v", err)
	}
	c.busy.Store(false)

	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentRebuilds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	raw := randomScene(rng, 8, 64)

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		startCh = make(chan struct{})
		errCh   = make(chan error, 16)
		doneCh  = make(chan struct{})
	)

	// Poll the state while rebuilds are running
	go func() {
		for {
			select {
			case <-doneCh:
				return
			default:
				_ = c.State()
			}
		}
	}()

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-startCh
			if i%4 == 0 {
				errCh <- c.Compose()
				return
			}
			errCh <- c.RebuildTLAS()
		}(i)
	}
	close(startCh)
	wg.Wait()
	close(doneCh)
	close(errCh)

	var succeeded int
	for err := range errCh {
		switch err {
		case nil:
			succeeded++
		case ErrBusy:
		default:
			t.Fatalf("expected nil or ErrBusy; got %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("expected at least one operation to succeed")
	}

	if c.State() != Ready {
		t.Fatalf("expected state %s; got %s", Ready, c.State())
	}
	checkComposition(t, c, raw)
}

func TestCompileReusesWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	opts := testOptions()
	opts.Workers = 8

	if _, err := Compile(randomScene(rng, 4, 8), opts); err != nil {
		t.Fatal(err)
	}
	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		if _, err := Compile(randomScene(rng, 4, 8), opts); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	runtime.GC()

	if after := runtime.NumGoroutine(); after > before+2 {
		t.Fatalf("expected goroutine count to stay close to %d after repeated compiles; got %d", before, after)
	}
}

func TestUnknownMeshReference(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, gridMesh("grid", 2))
	raw.MeshInstances = append(raw.MeshInstances, &input.MeshInstance{Name: "bogus", MeshIndex: 3, Transform: types.Ident4()})

	_, err := Compile(raw, testOptions())
	if !errors.Is(err, ErrUnknownMesh) {
		t.Fatalf("expected ErrUnknownMesh; got %v", err)
	}
}

func TestEmptyMeshInstancesAreSkipped(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, input.NewMesh("empty"), gridMesh("grid", 2))
	raw.MeshInstances = append(raw.MeshInstances,
		&input.MeshInstance{Name: "empty", MeshIndex: 0, Transform: types.Ident4()},
		&input.MeshInstance{Name: "grid", MeshIndex: 1, MaterialIndex: 7, Transform: types.Translate4(types.XYZ(1, 2, 3))},
	)

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	if !c.BLAS(0).Empty() {
		t.Fatal("expected empty mesh to produce an empty BLAS")
	}
	if got := c.BlasStartOffsets(); got[0] != 0 || got[1] != 0 {
		t.Fatalf("expected both BLAS start offsets to be 0; got %v", got)
	}

	root := c.Nodes()[c.TlasStartOffset()]
	if root.Kind() != bvh.InstanceLeaf {
		t.Fatalf("expected a single TLAS leaf; got %s node", root.Kind())
	}
	if root.InstanceIndex() != 1 || root.MaterialIndex() != 7 {
		t.Fatalf("expected leaf to reference instance 1 with material 7; got instance %d and material %d", root.InstanceIndex(), root.MaterialIndex())
	}

	sc := c.Scene()
	if len(sc.InstanceTransforms) != 2 || len(sc.MaterialIndices) != 2 {
		t.Fatalf("expected per-instance data for all 2 instances; got %d transforms", len(sc.InstanceTransforms))
	}
}

func TestCoincidentInstances(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, gridMesh("grid", 2))
	for i := 0; i < 4; i++ {
		raw.MeshInstances = append(raw.MeshInstances, &input.MeshInstance{Transform: types.Ident4()})
	}

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	if got := len(c.TLAS().Nodes); got != 7 {
		t.Fatalf("expected 7 TLAS nodes; got %d", got)
	}
	checkComposition(t, c, raw)
}

func TestVertexIndexExpansion(t *testing.T) {
	raw := input.NewScene()
	raw.Meshes = append(raw.Meshes, gridMesh("a", 2), gridMesh("b", 3))
	raw.MeshInstances = append(raw.MeshInstances,
		&input.MeshInstance{MeshIndex: 0, Transform: types.Ident4()},
		&input.MeshInstance{MeshIndex: 1, Transform: types.Ident4()},
	)

	c := NewComposer(raw, testOptions())
	if err := c.Compose(); err != nil {
		t.Fatal(err)
	}

	indices := c.PrimitiveVertexIndices()
	if len(indices) != 5 {
		t.Fatalf("expected 5 vertex index triples; got %d", len(indices))
	}

	// Mesh b primitives start after the 2 primitives of mesh a and their
	// vertices after the 6 vertices of mesh a.
	for i, tri := range c.BLAS(1).PrimitiveIndices {
		got := indices[2+i]
		exp := [3]uint32{6 + 3*tri, 7 + 3*tri, 8 + 3*tri}
		if got != exp {
			t.Fatalf("expected vertex indices %v for mesh b primitive %d; got %v", exp, tri, got)
		}
	}

	// Expansion is idempotent
	before := append([][3]uint32(nil), indices...)
	if err := c.ExpandVertexIndices(); err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if before[i] != c.PrimitiveVertexIndices()[i] {
			t.Fatalf("expected expansion to be idempotent; triple %d changed", i)
		}
	}
}

func TestCompileEmptyScene(t *testing.T) {
	sc, err := Compile(input.NewScene(), testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.BvhNodeList) != 0 || sc.TlasRoot() != nil {
		t.Fatalf("expected an empty scene; got %d nodes", len(sc.BvhNodeList))
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Workers = 2
	return opts
}

// Validate that every offset in the merged node list is absolute and in
// bounds, that every TLAS leaf lands on the root of its mesh BLAS and that
// every primitive maps to its own vertices.
func checkComposition(t *testing.T, c *Composer, raw *input.Scene) {
	nodes := c.Nodes()
	tlasStart := c.TlasStartOffset()
	indices := c.PrimitiveVertexIndices()
	sc := c.Scene()

	for index := range nodes {
		node := &nodes[index]
		switch node.Kind() {
		case bvh.Interior:
			second := node.SecondChildOffset()
			if second <= uint32(index)+1 || int(second) >= len(nodes) {
				t.Fatalf("node %d: second child offset %d out of range", index, second)
			}
			if (uint32(index) < tlasStart) != (second < tlasStart) {
				t.Fatalf("node %d: second child %d crosses the BLAS/TLAS boundary", index, second)
			}
		case bvh.PrimitiveLeaf:
			if uint32(index) >= tlasStart {
				t.Fatalf("node %d: primitive leaf found in TLAS", index)
			}
			if end := node.PrimitiveOffset() + node.PrimitiveCount(); int(end) > len(indices) {
				t.Fatalf("node %d: primitive range end %d exceeds %d", index, end, len(indices))
			}
		case bvh.InstanceLeaf:
			if uint32(index) < tlasStart {
				t.Fatalf("node %d: instance leaf found in BLAS", index)
			}
			mi := raw.MeshInstances[node.InstanceIndex()]
			blasOffset := node.BlasOffset()
			if blasOffset != c.BlasStartOffsets()[mi.MeshIndex] {
				t.Fatalf("node %d: expected BLAS offset %d; got %d", index, c.BlasStartOffsets()[mi.MeshIndex], blasOffset)
			}
			if nodes[blasOffset].Bounds != c.BLAS(int(mi.MeshIndex)).WorldBound() {
				t.Fatalf("node %d: BLAS offset does not land on the mesh BLAS root", index)
			}
			if node.MaterialIndex() != mi.MaterialIndex {
				t.Fatalf("node %d: expected material %d; got %d", index, mi.MaterialIndex, node.MaterialIndex())
			}
			if exp := c.BLAS(int(mi.MeshIndex)).WorldBound().Transform(mi.Transform); node.Bounds != exp {
				t.Fatalf("node %d: expected instance bounds %v; got %v", index, exp, node.Bounds)
			}
		}
	}

	// Each non-empty mesh instance is reachable exactly once from the TLAS root
	seen := make(map[uint32]int)
	if int(tlasStart) < len(nodes) {
		walk(nodes, tlasStart, func(index uint32, node *bvh.Node) {
			if node.Kind() == bvh.InstanceLeaf {
				seen[node.InstanceIndex()]++
			}
		})
	}
	for index, mi := range raw.MeshInstances {
		exp := 1
		if c.BLAS(int(mi.MeshIndex)).Empty() {
			exp = 0
		}
		if seen[uint32(index)] != exp {
			t.Fatalf("expected instance %d to be referenced %d times; got %d", index, exp, seen[uint32(index)])
		}
	}

	// Each mesh BLAS covers all mesh triangles and its vertex indices point
	// to the triangle vertices in the merged vertex list.
	for meshIndex, mesh := range raw.Meshes[:len(c.BlasStartOffsets())] {
		if c.BLAS(meshIndex).Empty() {
			continue
		}
		blasStart := c.BlasStartOffsets()[meshIndex]
		blasEnd := blasStart + uint32(len(c.BLAS(meshIndex).Nodes))
		triangles := make(map[int]bool)
		walk(nodes, blasStart, func(index uint32, node *bvh.Node) {
			if index < blasStart || index >= blasEnd {
				t.Fatalf("mesh %d: node %d outside BLAS block [%d, %d)", meshIndex, index, blasStart, blasEnd)
			}
			if node.Kind() != bvh.PrimitiveLeaf {
				return
			}
			for p := node.PrimitiveOffset(); p < node.PrimitiveOffset()+node.PrimitiveCount(); p++ {
				tri := indices[p]
				v0 := sc.VertexList[tri[0]].Vec3()
				found := -1
				for i := 0; i < mesh.TriangleCount(); i++ {
					if mesh.Vertices[3*i] == sc.VertexList[tri[0]] && mesh.Vertices[3*i+1] == sc.VertexList[tri[1]] && mesh.Vertices[3*i+2] == sc.VertexList[tri[2]] {
						found = i
						break
					}
				}
				if found == -1 {
					t.Fatalf("mesh %d: vertex indices %v do not match any mesh triangle", meshIndex, tri)
				}
				if !node.Bounds.Contains(v0) {
					t.Fatalf("mesh %d: leaf %d bounds do not contain vertex %v", meshIndex, index, v0)
				}
				triangles[found] = true
			}
		})
		if len(triangles) != mesh.TriangleCount() {
			t.Fatalf("mesh %d: expected %d reachable triangles; got %d", meshIndex, mesh.TriangleCount(), len(triangles))
		}
	}
}

func walk(nodes []bvh.Node, index uint32, visit func(uint32, *bvh.Node)) {
	node := &nodes[index]
	visit(index, node)
	if node.Kind() == bvh.Interior {
		walk(nodes, index+1, visit)
		walk(nodes, node.SecondChildOffset(), visit)
	}
}

// Create a mesh with count non-overlapping triangles along the x axis.
func gridMesh(name string, count int) *input.Mesh {
	m := input.NewMesh(name)
	for i := 0; i < count; i++ {
		x := float32(2 * i)
		m.Append(&input.Primitive{
			Vertices: [3]types.Vec3{{x, 0, 0}, {x + 1, 0, 0}, {x, 1, 0}},
			Normals:  [3]types.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		})
	}
	return m
}

func randomScene(rng *rand.Rand, meshCount, instanceCount int) *input.Scene {
	raw := input.NewScene()
	for i := 0; i < meshCount; i++ {
		m := input.NewMesh("mesh")
		triangles := 20 + rng.Intn(80)
		for j := 0; j < triangles; j++ {
			origin := types.XYZ(rng.Float32()*20, rng.Float32()*20, rng.Float32()*20)
			var prim input.Primitive
			for v := 0; v < 3; v++ {
				prim.Vertices[v] = origin.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32()))
				prim.UVs[v] = types.Vec2{rng.Float32(), rng.Float32()}
			}
			m.Append(&prim)
		}
		raw.Meshes = append(raw.Meshes, m)
	}

	for i := 0; i < instanceCount; i++ {
		transform := types.Translate4(types.XYZ(rng.Float32()*50, rng.Float32()*50, rng.Float32()*50)).
			Mul4(types.Rotate4(rng.Float32()*3, rng.Float32()*3, rng.Float32()*3)).
			Mul4(types.Scale4(types.Splat3(0.5 + rng.Float32())))
		raw.MeshInstances = append(raw.MeshInstances, &input.MeshInstance{
			MeshIndex:     uint32(i % meshCount),
			MaterialIndex: uint32(rng.Intn(4)),
			Transform:     transform,
		})
	}
	return raw
}
