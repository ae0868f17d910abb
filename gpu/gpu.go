// Package gpu declares the slice of the graphics API that the engine core
// consumes. The engine never talks to a driver directly; it goes through the
// Device interface, which is implemented for Vulkan in the gpu/vulkan package
// and by an in-memory device in gpu/gputest for tests.
package gpu

// BufferUsageFlags describes how a buffer will be used by the pipeline.
type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniformBuffer
	BufferUsageStorageBuffer
	BufferUsageIndexBuffer
	BufferUsageVertexBuffer
	BufferUsageShaderDeviceAddress
)

// ImageUsageFlags describes how an image will be used by the pipeline.
type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc ImageUsageFlags = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

// Format identifies the pixel layout of an image.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8UInt
	FormatR8G8UInt
	FormatR8G8B8UInt
	FormatR8G8B8A8UInt
	FormatR8G8B8A8SRGB
	FormatR16UInt
	FormatR16G16UInt
	FormatR16G16B16UInt
	FormatR16G16B16A16UInt
	FormatR32G32B32SFloat
	FormatR32G32B32A32SFloat
	FormatD32SFloat
)

var formatSizes = map[Format]int{
	FormatUndefined:          0,
	FormatR8UInt:             1,
	FormatR8G8UInt:           2,
	FormatR8G8B8UInt:         3,
	FormatR8G8B8A8UInt:       4,
	FormatR8G8B8A8SRGB:       4,
	FormatR16UInt:            2,
	FormatR16G16UInt:         4,
	FormatR16G16B16UInt:      6,
	FormatR16G16B16A16UInt:   8,
	FormatR32G32B32SFloat:    12,
	FormatR32G32B32A32SFloat: 16,
	FormatD32SFloat:          4,
}

// TexelSize returns the byte size of a single texel in this format.
func (f Format) TexelSize() int {
	return formatSizes[f]
}

// ImageLayout identifies the memory layout an image is currently arranged for.
type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutTransferDstOptimal
	ImageLayoutShaderReadOnlyOptimal
	ImageLayoutDepthAttachmentOptimal
	ImageLayoutColorAttachmentOptimal
)

// ImageAspectFlags identifies which aspect of an image an operation touches.
type ImageAspectFlags uint32

const (
	ImageAspectColor ImageAspectFlags = 1 << iota
	ImageAspectDepth
)

// AccessFlags describes memory access types for barrier synchronization.
type AccessFlags uint32

const (
	AccessNone          AccessFlags = 0
	AccessTransferWrite AccessFlags = 1 << iota
	AccessTransferRead
	AccessShaderRead
)

// PipelineStageFlags describes pipeline stages for barrier synchronization.
type PipelineStageFlags uint32

const (
	StageTopOfPipe PipelineStageFlags = 1 << iota
	StageTransfer
	StageFragmentShader
	StageBottomOfPipe
)

// Extent3D is the dimensions of an image in texels.
type Extent3D struct {
	Width  int
	Height int
	Depth  int
}

// MemoryRequirements reports what a resource needs from a memory allocation.
type MemoryRequirements struct {
	Size      int
	Alignment int
}

// ImageCreateInfo carries the parameters for Device.CreateImage.
type ImageCreateInfo struct {
	Format        Format
	Extent        Extent3D
	Usage         ImageUsageFlags
	MipLevels     int
	ArrayLayers   int
	InitialLayout ImageLayout
}

// ImageSubresourceRange selects the portion of an image a barrier applies to.
type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   int
	LevelCount     int
	BaseArrayLayer int
	LayerCount     int
}

// ImageMemoryBarrier describes a layout transition recorded into a command
// buffer via CommandBuffer.CmdPipelineBarrier.
type ImageMemoryBarrier struct {
	SrcAccessMask    AccessFlags
	DstAccessMask    AccessFlags
	OldLayout        ImageLayout
	NewLayout        ImageLayout
	Image            Image
	SubresourceRange ImageSubresourceRange
}

// BufferCopy is a single region of a buffer-to-buffer copy command.
type BufferCopy struct {
	SrcOffset int
	DstOffset int
	Size      int
}

// ImageSubresourceLayers selects the portion of an image a copy writes.
type ImageSubresourceLayers struct {
	AspectMask     ImageAspectFlags
	MipLevel       int
	BaseArrayLayer int
	LayerCount     int
}

// BufferImageCopy is a single region of a buffer-to-image copy command.
type BufferImageCopy struct {
	BufferOffset      int
	BufferRowLength   int
	BufferImageHeight int
	ImageSubresource  ImageSubresourceLayers
	ImageExtent       Extent3D
}
