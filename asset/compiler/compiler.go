package compiler

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/achilleasa/nagi/asset/compiler/bvh"
	"github.com/achilleasa/nagi/asset/compiler/input"
	"github.com/achilleasa/nagi/asset/scene"
	"github.com/achilleasa/nagi/log"
	"github.com/achilleasa/nagi/types"
)

// The number of nodes processed by a single offset correction task.
const nodeChunkSize = 4096

// Worker pools shared by all composers, keyed by worker count. Pool workers
// never exit so pools are created once and reused.
var (
	poolMu sync.Mutex
	pools  = map[int]worker.DynamicWorkerPool{}
)

func sharedPool(workers int) worker.DynamicWorkerPool {
	poolMu.Lock()
	defer poolMu.Unlock()

	pool, exists := pools[workers]
	if !exists {
		pool = worker.NewDynamicWorkerPool(workers, 256, 1*time.Second)
		pools[workers] = pool
	}
	return pool
}

// Options for composing a scene.
type Options struct {
	// Options for the per-mesh hierarchies.
	Blas bvh.Options

	// Options for the instance hierarchy. The max leaf size is always forced
	// to 1 so that each TLAS leaf references a single mesh instance.
	Tlas bvh.Options

	// The number of workers used for BLAS builds and offset passes.
	Workers int
}

// Get the default composer options.
func DefaultOptions() Options {
	return Options{
		Blas:    bvh.DefaultOptions(),
		Tlas:    bvh.DefaultOptions(),
		Workers: max(runtime.NumCPU()-1, 1),
	}
}

// Composer builds a BVH for each scene mesh and a top level BVH over the mesh
// instances and merges them into a single node list where every node offset
// is an absolute index into that list.
//
// The merged data is owned by the composer and only mutated by its
// operations. It is safe to read between operations; operations that run
// concurrently with each other fail with ErrBusy.
type Composer struct {
	logger   log.Logger
	opts     Options
	rawScene *input.Scene
	pool     worker.DynamicWorkerPool
	taskID   int

	busy            atomic.Bool
	state           atomic.Int32
	indicesExpanded bool

	// Per-mesh hierarchies; kept for TLAS-only rebuilds.
	blas []*bvh.BVH

	// The instance hierarchy and a map of TLAS primitive ids to mesh
	// instance indices. Instances of empty meshes are not part of the TLAS.
	tlas          *bvh.BVH
	tlasInstances []uint32

	sceneNodes       []bvh.Node
	tlasStartOffset  uint32
	blasStartOffsets []uint32

	// Cumulative primitive and vertex counts of the meshes preceding each mesh.
	blasPrimOffsets []uint32
	vertexOffsets   []uint32

	primitiveVertexIndices [][3]uint32
	vertexList             []types.Vec4
	normalList             []types.Vec4

	instanceTransforms []types.Mat4
	inverseTransforms  []types.Mat4
	materialIndices    []uint32
}

// Create a new composer for a raw scene. Mesh instance transforms may be
// modified in place and picked up by RebuildTLAS.
func NewComposer(rawScene *input.Scene, opts Options) *Composer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	opts.Tlas.MaxLeafSize = 1
	opts.Tlas.SplitCoincident = true

	return &Composer{
		logger:   log.New("scene compiler"),
		opts:     opts,
		rawScene: rawScene,
		pool:     sharedPool(opts.Workers),
	}
}

// Compile a scene representation parsed by a scene reader into a GPU-friendly
// optimized scene format.
func Compile(rawScene *input.Scene, opts Options) (*scene.Scene, error) {
	start := time.Now()
	composer := NewComposer(rawScene, opts)
	composer.logger.Noticef("compiling scene (%d meshes, %d mesh instances)", len(rawScene.Meshes), len(rawScene.MeshInstances))

	if err := composer.Compose(); err != nil {
		return nil, err
	}

	composer.logger.Noticef("compiled scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return composer.Scene(), nil
}

// Run the full pipeline: build and integrate the per-mesh hierarchies, expand
// the vertex indices and then build and integrate the instance hierarchy.
// Compose may be called in any state to rebuild everything.
func (c *Composer) Compose() error {
	if err := c.begin("compose", Empty, BLASBuilt, BLASIntegrated, TLASBuilt, TLASIntegrated, Ready); err != nil {
		return err
	}
	defer c.end()

	c.buildBLAS()
	c.integrateBLAS()
	c.expandVertexIndices()
	if err := c.buildTLAS(); err != nil {
		return err
	}
	c.integrateTLAS()
	return nil
}

// Build a BVH for each mesh using the mesh triangle bounds. Meshes are
// processed in parallel. BuildBLAS may be called in any state and discards
// all merged data.
func (c *Composer) BuildBLAS() error {
	if err := c.begin("build BLAS", Empty, BLASBuilt, BLASIntegrated, TLASBuilt, TLASIntegrated, Ready); err != nil {
		return err
	}
	defer c.end()

	c.buildBLAS()
	return nil
}

// Concatenate the mesh hierarchies into the merged node list and rebase
// their offsets.
func (c *Composer) IntegrateBLAS() error {
	if err := c.begin("integrate BLAS", BLASBuilt); err != nil {
		return err
	}
	defer c.end()

	c.integrateBLAS()
	return nil
}

// Fill the merged vertex index list. Each primitive referenced by a BLAS leaf
// maps to the indices of its 3 vertices in the merged vertex list.
func (c *Composer) ExpandVertexIndices() error {
	if err := c.begin("expand vertex indices", BLASIntegrated, TLASBuilt, TLASIntegrated, Ready); err != nil {
		return err
	}
	defer c.end()

	c.expandVertexIndices()
	return nil
}

// Build the instance hierarchy from the world space bounds of each mesh
// instance.
func (c *Composer) BuildTLAS() error {
	if err := c.begin("build TLAS", BLASIntegrated, TLASBuilt, TLASIntegrated, Ready); err != nil {
		return err
	}
	defer c.end()

	return c.buildTLAS()
}

// Append the instance hierarchy to the merged node list, replacing any
// previously integrated one.
func (c *Composer) IntegrateTLAS() error {
	if err := c.begin("integrate TLAS", TLASBuilt); err != nil {
		return err
	}
	defer c.end()

	c.integrateTLAS()
	return nil
}

// Rebuild only the instance hierarchy. The BLAS node blocks, the vertex
// index list and the vertex buffers are not modified.
func (c *Composer) RebuildTLAS() error {
	if err := c.begin("rebuild TLAS", Ready); err != nil {
		return err
	}
	defer c.end()

	start := time.Now()
	if err := c.buildTLAS(); err != nil {
		return err
	}
	c.integrateTLAS()
	c.logger.Noticef("rebuilt TLAS in %d ms", time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Get the current composer state.
func (c *Composer) State() State {
	return State(c.state.Load())
}

func (c *Composer) setState(state State) {
	c.state.Store(int32(state))
}

// Get the merged node list. The returned slice must not be modified.
func (c *Composer) Nodes() []bvh.Node {
	return c.sceneNodes
}

// Get the index of the TLAS root in the merged node list.
func (c *Composer) TlasStartOffset() uint32 {
	return c.tlasStartOffset
}

// Get the index of each mesh BLAS root in the merged node list.
func (c *Composer) BlasStartOffsets() []uint32 {
	return c.blasStartOffsets
}

// Get the merged vertex index list.
func (c *Composer) PrimitiveVertexIndices() [][3]uint32 {
	return c.primitiveVertexIndices
}

// Get the hierarchy built for a mesh or nil if it does not exist.
func (c *Composer) BLAS(meshIndex int) *bvh.BVH {
	if meshIndex < 0 || meshIndex >= len(c.blas) {
		return nil
	}
	return c.blas[meshIndex]
}

// Get the instance hierarchy or nil if it has not been built yet.
func (c *Composer) TLAS() *bvh.BVH {
	return c.tlas
}

// Get a snapshot of the merged data packed into GPU records.
func (c *Composer) Scene() *scene.Scene {
	sc := &scene.Scene{
		BvhNodeList:            make([]scene.BvhNode, len(c.sceneNodes)),
		TlasStartOffset:        c.tlasStartOffset,
		BlasStartOffsets:       append([]uint32(nil), c.blasStartOffsets...),
		PrimitiveVertexIndices: append([][3]uint32(nil), c.primitiveVertexIndices...),
		VertexList:             append([]types.Vec4(nil), c.vertexList...),
		NormalList:             append([]types.Vec4(nil), c.normalList...),
		InstanceTransforms:     append([]types.Mat4(nil), c.instanceTransforms...),
		InverseTransforms:      append([]types.Mat4(nil), c.inverseTransforms...),
		MaterialIndices:        append([]uint32(nil), c.materialIndices...),
	}
	for index := range c.sceneNodes {
		sc.BvhNodeList[index] = scene.PackBvhNode(&c.sceneNodes[index])
	}
	return sc
}

func (c *Composer) begin(op string, allowed ...State) error {
	if !c.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if state := c.State(); !stateIn(state, allowed...) {
		c.busy.Store(false)
		return stateError(op, state, allowed...)
	}
	return nil
}

func (c *Composer) end() {
	c.busy.Store(false)
}

// Submit a task to the worker pool. The caller must call wg.Add before
// submitting.
func (c *Composer) submit(wg *sync.WaitGroup, fn func()) {
	id := c.taskID
	c.taskID++
	c.pool.SubmitTask(worker.Task{
		ID: id,
		Do: func() (any, error) {
			defer wg.Done()
			fn()
			return nil, nil
		},
	})
}

// Split [0, count) into chunks and process them in parallel. Returns once all
// chunks have been processed.
func (c *Composer) parallelRange(count int, fn func(from, to int)) {
	var wg sync.WaitGroup
	for from := 0; from < count; from += nodeChunkSize {
		to := min(from+nodeChunkSize, count)
		wg.Add(1)
		lo, hi := from, to
		c.submit(&wg, func() { fn(lo, hi) })
	}
	wg.Wait()
}

func (c *Composer) buildBLAS() {
	start := time.Now()
	meshes := c.rawScene.Meshes

	c.blas = make([]*bvh.BVH, len(meshes))
	var wg sync.WaitGroup
	for index, mesh := range meshes {
		wg.Add(1)
		meshIndex, m := index, mesh
		c.submit(&wg, func() {
			c.blas[meshIndex] = bvh.Build(m.TriangleBounds(), c.opts.Blas)
		})
	}
	wg.Wait()

	for index, tree := range c.blas {
		c.logger.Infof(`built BVH tree for "%s" (%d primitives, %d nodes, depth %d)`, meshes[index].Name, tree.Stats.Primitives, len(tree.Nodes), tree.Stats.MaxDepth)
	}

	// Any previously merged data is now stale
	c.tlas = nil
	c.tlasInstances = nil
	c.sceneNodes = nil
	c.tlasStartOffset = 0
	c.blasStartOffsets = nil
	c.blasPrimOffsets = nil
	c.vertexOffsets = nil
	c.primitiveVertexIndices = nil
	c.vertexList = nil
	c.normalList = nil
	c.instanceTransforms = nil
	c.inverseTransforms = nil
	c.materialIndices = nil
	c.indicesExpanded = false

	c.setState(BLASBuilt)
	c.logger.Noticef("built %d BLAS trees in %d ms", len(c.blas), time.Since(start).Nanoseconds()/1e6)
}

func (c *Composer) integrateBLAS() {
	start := time.Now()
	meshes := c.rawScene.Meshes[:len(c.blas)]

	c.blasStartOffsets = make([]uint32, len(c.blas))
	c.blasPrimOffsets = make([]uint32, len(c.blas))
	c.vertexOffsets = make([]uint32, len(c.blas))

	var totalNodes, totalPrims, totalVertices uint32
	for index, tree := range c.blas {
		c.blasStartOffsets[index] = totalNodes
		c.blasPrimOffsets[index] = totalPrims
		c.vertexOffsets[index] = totalVertices

		totalNodes += uint32(len(tree.Nodes))
		totalPrims += uint32(len(tree.PrimitiveIndices))
		totalVertices += uint32(len(meshes[index].Vertices))
	}

	// Reserve room for a TLAS with one leaf per instance
	tlasCapacity := max(2*len(c.rawScene.MeshInstances)-1, 0)
	c.sceneNodes = make([]bvh.Node, totalNodes, int(totalNodes)+tlasCapacity)

	var wg sync.WaitGroup
	for index, tree := range c.blas {
		nodeBase, primBase := c.blasStartOffsets[index], c.blasPrimOffsets[index]
		src := tree.Nodes
		for from := 0; from < len(src); from += nodeChunkSize {
			to := min(from+nodeChunkSize, len(src))
			wg.Add(1)
			lo, hi := from, to
			c.submit(&wg, func() {
				dst := c.sceneNodes[int(nodeBase)+lo : int(nodeBase)+hi]
				copy(dst, src[lo:hi])
				for i := range dst {
					dst[i].Offset(nodeBase, primBase)
				}
			})
		}
	}
	wg.Wait()

	c.vertexList = make([]types.Vec4, 0, totalVertices)
	c.normalList = make([]types.Vec4, 0, totalVertices)
	for _, mesh := range meshes {
		c.vertexList = append(c.vertexList, mesh.Vertices...)
		c.normalList = append(c.normalList, mesh.Normals...)
	}

	c.primitiveVertexIndices = make([][3]uint32, totalPrims)
	c.indicesExpanded = false
	c.tlasStartOffset = totalNodes

	c.setState(BLASIntegrated)
	c.logger.Infof("integrated %d BLAS nodes (%d primitives, %d vertices) in %d ms", totalNodes, totalPrims, totalVertices, time.Since(start).Nanoseconds()/1e6)
}

func (c *Composer) expandVertexIndices() {
	var wg sync.WaitGroup
	for index, tree := range c.blas {
		wg.Add(1)
		primBase, vertexBase, prims := c.blasPrimOffsets[index], c.vertexOffsets[index], tree.PrimitiveIndices
		c.submit(&wg, func() {
			out := c.primitiveVertexIndices[primBase : int(primBase)+len(prims)]
			for i, tri := range prims {
				first := 3*tri + vertexBase
				out[i] = [3]uint32{first, first + 1, first + 2}
			}
		})
	}
	wg.Wait()

	c.indicesExpanded = true
	if c.State() == TLASIntegrated {
		c.setState(Ready)
	}
}

func (c *Composer) buildTLAS() error {
	start := time.Now()
	instances := c.rawScene.MeshInstances

	bounds := make([]types.Bounds3, 0, len(instances))
	tlasInstances := make([]uint32, 0, len(instances))
	for index, mi := range instances {
		if int(mi.MeshIndex) >= len(c.blas) {
			return fmt.Errorf("%w: instance %d (%q) references mesh %d but the scene has %d meshes", ErrUnknownMesh, index, mi.Name, mi.MeshIndex, len(c.blas))
		}

		tree := c.blas[mi.MeshIndex]
		if tree.Empty() {
			c.logger.Warningf(`skipping instance %d (%q): mesh %d has no primitives`, index, mi.Name, mi.MeshIndex)
			continue
		}

		bounds = append(bounds, tree.WorldBound().Transform(mi.Transform))
		tlasInstances = append(tlasInstances, uint32(index))
	}

	c.tlas = bvh.Build(bounds, c.opts.Tlas)
	c.tlasInstances = tlasInstances

	c.setState(TLASBuilt)
	c.logger.Infof("built TLAS for %d mesh instances (%d nodes) in %d ms", len(tlasInstances), len(c.tlas.Nodes), time.Since(start).Nanoseconds()/1e6)
	return nil
}

func (c *Composer) integrateTLAS() {
	instances := c.rawScene.MeshInstances
	base := c.tlasStartOffset

	c.sceneNodes = append(c.sceneNodes[:base], c.tlas.Nodes...)
	c.parallelRange(len(c.tlas.Nodes), func(from, to int) {
		for i := from; i < to; i++ {
			node := &c.sceneNodes[int(base)+i]
			if !node.IsLeaf() {
				node.Offset(base, 0)
				continue
			}

			if node.PrimitiveCount() != 1 {
				c.logger.Panicf("TLAS leaf %d references %d instances", i, node.PrimitiveCount())
			}
			instIndex := c.tlasInstances[c.tlas.PrimitiveIndices[node.PrimitiveOffset()]]
			mi := instances[instIndex]
			*node = bvh.NewInstanceLeaf(node.Bounds, c.blasStartOffsets[mi.MeshIndex], instIndex, mi.MaterialIndex)
		}
	})

	c.instanceTransforms = make([]types.Mat4, len(instances))
	c.inverseTransforms = make([]types.Mat4, len(instances))
	c.materialIndices = make([]uint32, len(instances))
	for index, mi := range instances {
		c.instanceTransforms[index] = mi.Transform
		c.inverseTransforms[index] = mi.Transform.Inv()
		c.materialIndices[index] = mi.MaterialIndex
	}

	c.setState(TLASIntegrated)
	if c.indicesExpanded {
		c.setState(Ready)
	}
}
