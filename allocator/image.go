package allocator

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// ImagePurpose selects how an image will be consumed by the renderer, which
// decides its usage flags, aspect mask, and the layout it is transitioned to
// once the allocator finishes preparing it.
type ImagePurpose uint32

const (
	// ImagePurposeTexture is a sampled texture filled with pixel data at
	// creation.
	ImagePurposeTexture ImagePurpose = iota
	// ImagePurposeDepthBuffer is a depth attachment; it starts empty.
	ImagePurposeDepthBuffer
	// ImagePurposeColorAttachment is a render target; it starts empty.
	ImagePurposeColorAttachment
)

func (p ImagePurpose) usage() gpu.ImageUsageFlags {
	switch p {
	case ImagePurposeDepthBuffer:
		return gpu.ImageUsageDepthStencilAttachment
	case ImagePurposeColorAttachment:
		return gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferSrc
	default:
		return gpu.ImageUsageSampled
	}
}

func (p ImagePurpose) aspectMask() gpu.ImageAspectFlags {
	if p == ImagePurposeDepthBuffer {
		return gpu.ImageAspectDepth
	}
	return gpu.ImageAspectColor
}

func (p ImagePurpose) finalLayout() gpu.ImageLayout {
	switch p {
	case ImagePurposeDepthBuffer:
		return gpu.ImageLayoutDepthAttachmentOptimal
	case ImagePurposeColorAttachment:
		return gpu.ImageLayoutColorAttachmentOptimal
	default:
		return gpu.ImageLayoutShaderReadOnlyOptimal
	}
}

// Image is a GPU image together with the memory backing it. Like Buffer, it
// owns its allocation and returns it through the release channel on Destroy.
type Image struct {
	logger     *slog.Logger
	release    *releaseSender
	image      gpu.Image
	allocation *memory.Allocation
	format     gpu.Format
	extent     gpu.Extent3D
	aspect     gpu.ImageAspectFlags
}

func newImage(a *Allocator, info gpu.ImageCreateInfo, aspect gpu.ImageAspectFlags) (*Image, error) {
	image, err := a.device.CreateImage(info)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image")
	}

	requirements := image.MemoryRequirements()
	allocation, err := a.engine.Allocate(requirements.Size, requirements.Alignment, memory.ClassGPUOnly)
	if err != nil {
		image.Destroy()
		return nil, errors.Wrapf(err, "failed to allocate memory for a %dx%d image", info.Extent.Width, info.Extent.Height)
	}

	if err := image.BindMemory(allocation.Memory(), allocation.Offset()); err != nil {
		image.Destroy()
		a.freeAllocation(allocation)
		return nil, errors.Wrap(err, "failed to bind memory to image")
	}

	return &Image{
		logger:     a.logger,
		release:    a.releaseSender.Clone(),
		image:      image,
		allocation: allocation,
		format:     info.Format,
		extent:     info.Extent,
		aspect:     aspect,
	}, nil
}

// Handle returns the underlying driver image.
func (i *Image) Handle() gpu.Image {
	return i.image
}

// Format returns the pixel format the image was created with.
func (i *Image) Format() gpu.Format {
	return i.format
}

// Extent returns the image dimensions in texels.
func (i *Image) Extent() gpu.Extent3D {
	return i.extent
}

// CreateView creates a full-image view for descriptor binding. The caller
// owns the view and must destroy it before the image.
func (i *Image) CreateView() (gpu.ImageView, error) {
	view, err := i.image.CreateView(i.format, i.aspect)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image view")
	}
	return view, nil
}

func (i *Image) subresourceRange() gpu.ImageSubresourceRange {
	return gpu.ImageSubresourceRange{
		AspectMask: i.aspect,
		LevelCount: 1,
		LayerCount: 1,
	}
}

// prepareForTransfer records the barrier that moves the freshly created image
// into the transfer-destination layout.
func (i *Image) prepareForTransfer(commandBuffer gpu.CommandBuffer) {
	commandBuffer.CmdPipelineBarrier(gpu.StageTopOfPipe, gpu.StageTransfer, []gpu.ImageMemoryBarrier{
		{
			SrcAccessMask:    gpu.AccessNone,
			DstAccessMask:    gpu.AccessTransferWrite,
			OldLayout:        gpu.ImageLayoutUndefined,
			NewLayout:        gpu.ImageLayoutTransferDstOptimal,
			Image:            i.image,
			SubresourceRange: i.subresourceRange(),
		},
	})
}

// transitionToFinal records the barrier that moves the image from the
// transfer-destination layout into the layout its purpose calls for.
func (i *Image) transitionToFinal(commandBuffer gpu.CommandBuffer, purpose ImagePurpose) {
	commandBuffer.CmdPipelineBarrier(gpu.StageTransfer, gpu.StageFragmentShader, []gpu.ImageMemoryBarrier{
		{
			SrcAccessMask:    gpu.AccessTransferWrite,
			DstAccessMask:    gpu.AccessShaderRead,
			OldLayout:        gpu.ImageLayoutTransferDstOptimal,
			NewLayout:        purpose.finalLayout(),
			Image:            i.image,
			SubresourceRange: i.subresourceRange(),
		},
	})
}

// Destroy releases the image. The driver object is destroyed immediately; the
// backing memory travels back to the owning allocator. Calling Destroy again
// is a no-op.
func (i *Image) Destroy() {
	if i.allocation == nil {
		return
	}

	allocation := i.allocation
	i.allocation = nil

	if err := i.release.Send(allocation); err != nil {
		i.logger.Error("image outlived its allocator, leaking its memory", slog.Any("error", err))
	}
	i.release.Close()
	i.image.Destroy()
}
