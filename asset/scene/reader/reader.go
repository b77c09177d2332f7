package reader

import (
	"fmt"

	"github.com/achilleasa/nagi/asset"
	"github.com/achilleasa/nagi/asset/compiler"
	"github.com/achilleasa/nagi/asset/scene"
)

// The Reader interface is implemented by all scene readers.
type Reader interface {
	// Read scene definition from a resource.
	Read(*asset.Resource) (*scene.Scene, error)
}

// Read scene from a local file or remote URL. Wavefront object files are
// compiled using the supplied options; compiled scene archives are loaded
// as-is.
func ReadScene(filename string, opts compiler.Options) (*scene.Scene, error) {
	res, err := asset.NewResource(filename, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	// Select reader based on file extension
	var reader Reader
	switch ext := res.Ext(); ext {
	case ".obj":
		reader = newWavefrontReader(opts)
	case ".zip":
		reader = newZipSceneReader()
	default:
		return nil, fmt.Errorf("readScene: unsupported file format %q", ext)
	}
	return reader.Read(res)
}
