package scene

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/nagi/types"
)

// Size in bytes of a packed BVH node (std430 layout):
//
//	struct BvhNode {
//	    vec3 min;  uint a;
//	    vec3 max;  uint b;
//	    uint c;    uint kind;  uint pad[2];
//	}; -> 48 bytes
const BvhNodeSize = 48

// Encode a list of BVH nodes into a little-endian byte buffer that can be
// copied verbatim into a GPU storage buffer.
func EncodeBvhNodes(nodes []BvhNode) []byte {
	buf := make([]byte, len(nodes)*BvhNodeSize)
	for index := range nodes {
		nodes[index].encode(buf[index*BvhNodeSize : (index+1)*BvhNodeSize])
	}
	return buf
}

// Decode a byte buffer produced by EncodeBvhNodes.
func DecodeBvhNodes(buf []byte) []BvhNode {
	nodes := make([]BvhNode, len(buf)/BvhNodeSize)
	for index := range nodes {
		nodes[index].decode(buf[index*BvhNodeSize : (index+1)*BvhNodeSize])
	}
	return nodes
}

// Encode the primitive vertex index triples as a flat uint32 buffer.
func EncodeVertexIndices(indices [][3]uint32) []byte {
	buf := make([]byte, len(indices)*12)
	for index, tri := range indices {
		for v := 0; v < 3; v++ {
			binary.LittleEndian.PutUint32(buf[index*12+v*4:], tri[v])
		}
	}
	return buf
}

// Encode a list of 4 component vectors as a flat float32 buffer.
func EncodeVec4List(list []types.Vec4) []byte {
	buf := make([]byte, len(list)*16)
	for index, v := range list {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(buf[index*16+c*4:], math.Float32bits(v[c]))
		}
	}
	return buf
}

func (n *BvhNode) encode(buf []byte) {
	putVec3(buf[0:12], n.Min)
	binary.LittleEndian.PutUint32(buf[12:16], n.A)
	putVec3(buf[16:28], n.Max)
	binary.LittleEndian.PutUint32(buf[28:32], n.B)
	binary.LittleEndian.PutUint32(buf[32:36], n.C)
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Kind))
	// Padding
	binary.LittleEndian.PutUint32(buf[40:44], 0)
	binary.LittleEndian.PutUint32(buf[44:48], 0)
}

func (n *BvhNode) decode(buf []byte) {
	n.Min = getVec3(buf[0:12])
	n.A = binary.LittleEndian.Uint32(buf[12:16])
	n.Max = getVec3(buf[16:28])
	n.B = binary.LittleEndian.Uint32(buf[28:32])
	n.C = binary.LittleEndian.Uint32(buf[32:36])
	n.Kind = BvhNodeKind(binary.LittleEndian.Uint32(buf[36:40]))
}

func putVec3(buf []byte, v types.Vec3) {
	for c := 0; c < 3; c++ {
		binary.LittleEndian.PutUint32(buf[c*4:], math.Float32bits(v[c]))
	}
}

func getVec3(buf []byte) types.Vec3 {
	var v types.Vec3
	for c := 0; c < 3; c++ {
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[c*4:]))
	}
	return v
}
