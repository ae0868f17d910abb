package asset

import "github.com/MyriadMinds/virtual-circus/gpu"

// ImageSource is one image's pixel payload as delivered by the parsing
// layer: raw texels plus the dimensions and format needed to upload them.
type ImageSource struct {
	Pixels []byte
	Width  int
	Height int
	Format gpu.Format
}

// ModelSource is the parsing layer's output for one model: structural
// metadata plus the raw byte blobs that become GPU buffers and images. The
// blobs are opaque beyond their size; the metadata tables index into them.
type ModelSource struct {
	Name      string
	Scenes    []Scene
	Meshes    []Mesh
	Views     []BufferView
	Accessors []Accessor

	BufferBlobs [][]byte
	Images      []ImageSource
}

// Loader produces model sources from archive paths. The archive format and
// its parsing live behind this interface.
type Loader interface {
	LoadModel(path string) (*ModelSource, error)
}
