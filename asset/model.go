// Package asset holds the engine-side model representation and the polling
// protocol through which systems request resources from the asset manager.
// Parsing interchange formats into ModelSource happens behind the Loader
// interface and is not this package's concern.
package asset

import (
	"github.com/MyriadMinds/virtual-circus/allocator"
	"github.com/go-gl/mathgl/mgl32"
)

// Scene is a named collection of root nodes.
type Scene struct {
	Name  string
	Nodes []Node
}

// Node places a mesh in the scene hierarchy. Mesh indexes the model's mesh
// table, or is negative for a pure grouping node.
type Node struct {
	Name      string
	Transform mgl32.Mat4
	Mesh      int
	Children  []Node
}

// Mesh is a named group of primitives.
type Mesh struct {
	Name       string
	Primitives []Primitive
}

// Primitive is one draw call's worth of geometry: accessor indices for its
// vertex and index data plus a material slot.
type Primitive struct {
	Vertices int
	Indices  int
	Material int
}

// BufferView is a byte range inside one of the model's buffers.
type BufferView struct {
	Buffer int
	Offset int
	Length int
}

// Accessor describes how to read typed elements out of a buffer view.
type Accessor struct {
	View   int
	Count  int
	Stride int
}

// Model is a fully uploaded model: the structural metadata from its source
// plus the GPU buffers and images backing it. Whoever takes the model off the
// bus owns it and must destroy it when done.
type Model struct {
	Name      string
	Scenes    []Scene
	Meshes    []Mesh
	Views     []BufferView
	Accessors []Accessor

	Buffers []*allocator.Buffer
	Images  []*allocator.Image
}

// Destroy releases the model's GPU resources. Safe from any goroutine; the
// memory returns to the allocator that uploaded the model.
func (m *Model) Destroy() {
	for _, buffer := range m.Buffers {
		buffer.Destroy()
	}
	for _, image := range m.Images {
		image.Destroy()
	}
	m.Buffers = nil
	m.Images = nil
}
