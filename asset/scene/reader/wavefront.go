package reader

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achilleasa/nagi/asset"
	"github.com/achilleasa/nagi/asset/compiler"
	"github.com/achilleasa/nagi/asset/compiler/input"
	"github.com/achilleasa/nagi/asset/scene"
	"github.com/achilleasa/nagi/log"
	"github.com/achilleasa/nagi/types"
	"github.com/chewxy/math32"
)

type wavefrontSceneReader struct {
	logger log.Logger
	opts   compiler.Options

	// The parsed scene.
	rawScene *input.Scene

	// Material names in order of first use. Materials are referenced
	// by mesh instances using their index.
	matNameToIndex map[string]uint32

	// Material selected by the last usemtl command; assigned to the
	// default instances of meshes defined after it.
	curMaterial uint32

	// Material index of each parsed mesh.
	meshMaterials []uint32

	// List of vertices, normals and uv coords.
	vertexList []types.Vec3
	normalList []types.Vec3
	uvList     []types.Vec2

	// An error stack that provides additional error information when
	// scene files include other files.
	errStack []string
}

// Create a new wavefront scene reader.
func newWavefrontReader(opts compiler.Options) *wavefrontSceneReader {
	return &wavefrontSceneReader{
		logger:         log.New("wavefront scene reader"),
		opts:           opts,
		rawScene:       input.NewScene(),
		matNameToIndex: make(map[string]uint32, 0),
		meshMaterials:  make([]uint32, 0),
		vertexList:     make([]types.Vec3, 0),
		normalList:     make([]types.Vec3, 0),
		uvList:         make([]types.Vec2, 0),
		errStack:       make([]string, 0),
	}
}

// Read scene definition.
func (r *wavefrontSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	// Parse scene
	err := r.parse(sceneRes)
	if err != nil {
		return nil, err
	}

	// If no mesh instances are defined, create instances for each defined mesh
	if len(r.rawScene.MeshInstances) == 0 {
		r.createDefaultMeshInstances()
	}

	r.logger.Noticef(
		"parsed scene in %d ms (%d meshes, %d triangles, %d mesh instances)",
		time.Since(start).Nanoseconds()/1e6, len(r.rawScene.Meshes), r.rawScene.TriangleCount(), len(r.rawScene.MeshInstances),
	)

	// Compile scene into an optimized, gpu-friendly format
	return compiler.Compile(r.rawScene, r.opts)
}

// Generate a mesh instance with an identity transformation for each defined mesh.
func (r *wavefrontSceneReader) createDefaultMeshInstances() {
	for meshIndex, mesh := range r.rawScene.Meshes {
		r.rawScene.MeshInstances = append(r.rawScene.MeshInstances, &input.MeshInstance{
			Name:          mesh.Name,
			MeshIndex:     uint32(meshIndex),
			MaterialIndex: r.meshMaterials[meshIndex],
			Transform:     types.Ident4(),
		})
	}
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontSceneReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)

	var errMsg string
	if file != "" {
		errMsg = strings.Trim(
			fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	} else {
		errMsg = strings.Trim(
			fmt.Sprintf("error: %s\n%s", msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	}

	return fmt.Errorf("%s", errMsg)
}

// Push a frame to the error stack.
func (r *wavefrontSceneReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontSceneReader) popFrame() {
	r.errStack = r.errStack[1:]
}

// Lookup a material index by name. Unknown names are assigned the next
// available index.
func (r *wavefrontSceneReader) materialIndex(name string) uint32 {
	matIndex, exists := r.matNameToIndex[name]
	if !exists {
		matIndex = uint32(len(r.matNameToIndex))
		r.matNameToIndex[name] = matIndex
	}
	return matIndex
}

// Append a new mesh to the scene.
func (r *wavefrontSceneReader) appendMesh(name string) {
	r.rawScene.Meshes = append(r.rawScene.Meshes, input.NewMesh(name))
	r.meshMaterials = append(r.meshMaterials, r.curMaterial)
}

// Parse wavefront object scene format.
func (r *wavefrontSceneReader) parse(res *asset.Resource) error {
	var lineNum int = 0

	// The main obj file may include (call) several other object files. Each
	// object file contains 1-based indices (when they are positive). By
	// tracking the current vertex/uv/normal offsets we can apply them
	// while parsing faces to select the correct coordinates.
	relVertexOffset := len(r.vertexList)
	relUvOffset := len(r.uvList)
	relNormalOffset := len(r.normalList)

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument; got %d`, lineTokens[0], len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [%s]", res.Path(), lineNum, lineTokens[0]))

			incRes, err := asset.NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}

			err = r.parse(incRes)
			incRes.Close()
			if err != nil {
				return err
			}
			r.popFrame()
		case "mtllib":
			// Material definitions are resolved by the renderer; only
			// material names are tracked here.
			r.logger.Debugf(`ignoring material library "%s"`, strings.Join(lineTokens[1:], " "))
		case "usemtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "usemtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			r.curMaterial = r.materialIndex(lineTokens[1])
			if lastMesh := len(r.meshMaterials) - 1; lastMesh >= 0 && r.rawScene.Meshes[lastMesh].TriangleCount() == 0 {
				r.meshMaterials[lastMesh] = r.curMaterial
			}
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.normalList = append(r.normalList, v)
		case "vt":
			v, err := parseVec2(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.uvList = append(r.uvList, v)
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}

			r.verifyLastParsedMesh()
			r.appendMesh(lineTokens[1])
		case "f":
			primList, err := r.parseFace(lineTokens, relVertexOffset, relUvOffset, relNormalOffset)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}

			// If no object has been defined create a default one
			if len(r.rawScene.Meshes) == 0 {
				r.appendMesh("default")
			}

			mesh := r.rawScene.Meshes[len(r.rawScene.Meshes)-1]
			for _, prim := range primList {
				mesh.Append(prim)
			}
		case "instance":
			instance, err := r.parseMeshInstance(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.rawScene.MeshInstances = append(r.rawScene.MeshInstances, instance)
		}
	}

	if err := scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err.Error())
	}

	r.verifyLastParsedMesh()
	return nil
}

// Drop the last parsed mesh if it contains no primitives.
func (r *wavefrontSceneReader) verifyLastParsedMesh() {
	lastMeshIndex := len(r.rawScene.Meshes) - 1
	if lastMeshIndex >= 0 && r.rawScene.Meshes[lastMeshIndex].TriangleCount() == 0 {
		r.logger.Warningf(`dropping mesh "%s" as it contains no polygons`, r.rawScene.Meshes[lastMeshIndex].Name)
		r.rawScene.Meshes = r.rawScene.Meshes[:lastMeshIndex]
		r.meshMaterials = r.meshMaterials[:lastMeshIndex]
	}
}

// Parse mesh instance definition. Definitions use the following format:
// instance mesh_name tX tY tZ yaw pitch roll sX sY sZ [material]
// where:
// - tX, tY, tZ       : translation vector
// - yaw, pitch, roll : rotation angles in degrees
// - sX, sY, sZ	      : scale
// - material         : optional material index or name
func (r *wavefrontSceneReader) parseMeshInstance(lineTokens []string) (*input.MeshInstance, error) {
	if len(lineTokens) != 11 && len(lineTokens) != 12 {
		return nil, fmt.Errorf(`unsupported syntax for "instance"; expected 10 or 11 arguments: mesh_name tX tY tZ yaw pitch roll sX sY sZ [material]; got %d`, len(lineTokens)-1)
	}

	// Find object by name
	meshName := lineTokens[1]
	meshIndex := -1
	for index, mesh := range r.rawScene.Meshes {
		if mesh.Name == meshName {
			meshIndex = index
			break
		}
	}

	if meshIndex == -1 {
		return nil, fmt.Errorf(`unknown mesh with name "%s"`, meshName)
	}

	// Meshes without faces are dropped once the next mesh starts
	if r.rawScene.Meshes[meshIndex].TriangleCount() == 0 {
		return nil, fmt.Errorf(`mesh "%s" has no faces; instances must follow the mesh faces`, meshName)
	}

	var translation, rotation, scale types.Vec3
	for index := 2; index < 11; index++ {
		v, err := parseCoord(lineTokens[index])
		if err != nil {
			return nil, err
		}

		switch {
		case index < 5:
			translation[index-2] = v
		case index < 8:
			// Rotation angles are specified in degrees
			rotation[index-5] = v * math32.Pi / 180.0
		default:
			scale[index-8] = v
		}
	}

	materialIndex := r.meshMaterials[meshIndex]
	if len(lineTokens) == 12 {
		if v, err := strconv.ParseUint(lineTokens[11], 10, 32); err == nil {
			materialIndex = uint32(v)
		} else {
			materialIndex = r.materialIndex(lineTokens[11])
		}
	}

	// Generate final matrix: M = T * R * S
	transform := types.Translate4(translation).
		Mul4(types.Rotate4(rotation[0], rotation[1], rotation[2])).
		Mul4(types.Scale4(scale))

	return &input.MeshInstance{
		Name:          meshName,
		MeshIndex:     uint32(meshIndex),
		MaterialIndex: materialIndex,
		Transform:     transform,
	}, nil
}

// Parse face definition. Each face definitions consists of 3 arguments,
// one for each vertex. Each one of the vertex arguments is comprised of
// 1, 2 or 3 args separated by a slash character. The following formats are
// supported:
// - vertexIndex
// - vertexIndex/uvIndex
// - vertexIndex//normalIndex
// - vertexIndex/uvIndex/normalIndex
//
// Indices start from 1 and may be negative to indicate
// an offset off the end of the vertex/uv list.
//
// This method only works with triangular/quad faces and will return an error if a
// face with more than 4 vertices is encountered.
func (r *wavefrontSceneReader) parseFace(lineTokens []string, relVertexOffset, relUvOffset, relNormalOffset int) ([]*input.Primitive, error) {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return nil, fmt.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	var vertices [4]types.Vec3
	var normals [4]types.Vec3
	var uv [4]types.Vec2
	var vOffset int
	var err error
	expIndices := 0
	hasNormals := false
	for arg := 0; arg < len(lineTokens)-1; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
		} else if len(vTokens) != expIndices {
			return nil, fmt.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}

		// Faces must at least define a vertex coord
		if vTokens[0] == "" {
			return nil, fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		vOffset, err = selectFaceCoordIndex(vTokens[0], len(r.vertexList), relVertexOffset)
		if err != nil {
			return nil, fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}
		vertices[arg] = r.vertexList[vOffset]

		// Parse UV coords if specified
		if expIndices > 1 && vTokens[1] != "" {
			vOffset, err = selectFaceCoordIndex(vTokens[1], len(r.uvList), relUvOffset)
			if err != nil {
				return nil, fmt.Errorf("could not parse tex coord for face argument %d: %s", arg, err.Error())
			}
			uv[arg] = r.uvList[vOffset]
		}

		// Parse normal coords if specified
		if expIndices > 2 && vTokens[2] != "" {
			vOffset, err = selectFaceCoordIndex(vTokens[2], len(r.normalList), relNormalOffset)
			if err != nil {
				return nil, fmt.Errorf("could not parse normal coord for face argument %d: %s", arg, err.Error())
			}
			normals[arg] = r.normalList[vOffset]
			hasNormals = true
		}
	}

	// If no normals are available generate them from the vertices
	if !hasNormals {
		e01 := vertices[1].Sub(vertices[0])
		e02 := vertices[2].Sub(vertices[0])
		faceNormal := e01.Cross(e02).Normalize()
		for i := range normals {
			normals[i] = faceNormal
		}
	}

	// Assemble vertices into one or two primitives depending on whether we are parsing a triangular or a quad face
	indiceList := [][3]int{{0, 1, 2}}
	if len(lineTokens) == 5 {
		indiceList = append(indiceList, [3]int{0, 2, 3})
	}

	primitives := make([]*input.Primitive, 0, len(indiceList))
	for _, indices := range indiceList {
		prim := &input.Primitive{}
		for triIndex, selectIndex := range indices {
			prim.Vertices[triIndex] = vertices[selectIndex]
			prim.Normals[triIndex] = normals[selectIndex]
			prim.UVs[triIndex] = uv[selectIndex]
		}
		primitives = append(primitives, prim)
	}

	return primitives, nil
}

// Given an index for a face coord type (vertex, normal, tex) calculate the
// proper offset into the coord list. Wavefront format can also use negative
// indices to reference elements from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int, relOffset int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var vOffset int = 0
	if index < 0 {
		vOffset = coordListLen + int(index)
	} else {
		vOffset = relOffset + int(index-1)
	}
	if vOffset < 0 || vOffset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return vOffset, nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := parseCoord(lineTokens[tokIdx])
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = coord
	}
	return v, nil
}

// Parse a Vec2 row.
func parseVec2(lineTokens []string) (types.Vec2, error) {
	if len(lineTokens) < 3 {
		return types.Vec2{}, fmt.Errorf(`unsupported syntax for "%s"; expected 2 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec2{}
	for tokIdx := 1; tokIdx <= 2; tokIdx++ {
		coord, err := parseCoord(lineTokens[tokIdx])
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = coord
	}
	return v, nil
}

// Parse a single float coordinate. Non-finite values are rejected.
func parseCoord(token string) (float32, error) {
	v, err := strconv.ParseFloat(token, 32)
	if err != nil {
		return 0, err
	}

	coord := float32(v)
	if math32.IsNaN(coord) || math32.IsInf(coord, 0) {
		return 0, fmt.Errorf("coordinate %q is not a finite number", token)
	}
	return coord, nil
}
