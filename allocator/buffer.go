package allocator

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Buffer is a GPU buffer together with the memory backing it. It can move
// between goroutines freely; Destroy is valid on any of them and returns the
// backing memory to the originating allocator through the release channel
// rather than touching the allocator directly.
type Buffer struct {
	logger     *slog.Logger
	release    *releaseSender
	buffer     gpu.Buffer
	allocation *memory.Allocation

	// size is the byte size the buffer was requested with. The allocation
	// behind it may be larger: drivers round memory requirements up.
	size int
}

func newBuffer(a *Allocator, size int, usage gpu.BufferUsageFlags, class memory.Class) (*Buffer, error) {
	buffer, err := a.device.CreateBuffer(size, usage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create buffer")
	}

	requirements := buffer.MemoryRequirements()
	allocation, err := a.engine.Allocate(requirements.Size, requirements.Alignment, class)
	if err != nil {
		buffer.Destroy()
		return nil, errors.Wrapf(err, "failed to allocate memory for a %d-byte buffer", size)
	}

	if err := buffer.BindMemory(allocation.Memory(), allocation.Offset()); err != nil {
		buffer.Destroy()
		a.freeAllocation(allocation)
		return nil, errors.Wrap(err, "failed to bind memory to buffer")
	}

	return &Buffer{
		logger:     a.logger,
		release:    a.releaseSender.Clone(),
		buffer:     buffer,
		allocation: allocation,
		size:       size,
	}, nil
}

// Handle returns the underlying driver buffer, for recording commands that
// read or write it.
func (b *Buffer) Handle() gpu.Buffer {
	return b.buffer
}

// Size returns the byte size the buffer was created with, independent of any
// rounding in the driver's memory requirements.
func (b *Buffer) Size() int {
	return b.size
}

// Offset returns the buffer's byte offset within its backing memory block.
func (b *Buffer) Offset() int {
	return b.allocation.Offset()
}

// DeviceAddress returns the GPU-side address of the buffer.
func (b *Buffer) DeviceAddress() uint64 {
	return b.buffer.DeviceAddress()
}

// Bytes returns the host-mapped contents of the buffer, trimmed to its
// requested size. Only buffers in CPU-visible memory can be mapped.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.allocation == nil {
		return nil, errors.New("buffer has been destroyed")
	}
	mapped, err := b.allocation.MappedBytes()
	if err != nil {
		return nil, err
	}
	return mapped[:b.size], nil
}

// LoadData copies data into the buffer through its host mapping. The data may
// be smaller than the buffer, in which case it fills a prefix.
func (b *Buffer) LoadData(data []byte) error {
	mapped, err := b.Bytes()
	if err != nil {
		return err
	}
	if len(data) > len(mapped) {
		return errors.Newf("buffer holds %d bytes, got %d bytes of data", len(mapped), len(data))
	}

	copy(mapped, data)
	return nil
}

// copyToBuffer records a full copy of this buffer into dst.
func (b *Buffer) copyToBuffer(commandBuffer gpu.CommandBuffer, dst *Buffer) {
	commandBuffer.CmdCopyBuffer(b.buffer, dst.buffer, []gpu.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: b.Size()},
	})
}

// copyToImage records a copy of this buffer into the given image, which must
// be in the transfer-destination layout.
func (b *Buffer) copyToImage(commandBuffer gpu.CommandBuffer, dst *Image, extent gpu.Extent3D) {
	commandBuffer.CmdCopyBufferToImage(b.buffer, dst.image, gpu.ImageLayoutTransferDstOptimal, []gpu.BufferImageCopy{
		{
			BufferOffset: 0,
			ImageSubresource: gpu.ImageSubresourceLayers{
				AspectMask: dst.aspect,
				LayerCount: 1,
			},
			ImageExtent: extent,
		},
	})
}

// Destroy releases the buffer. The driver object is destroyed immediately;
// the backing memory travels back to the owning allocator and is reclaimed on
// its next deallocation pass. Calling Destroy again is a no-op.
func (b *Buffer) Destroy() {
	if b.allocation == nil {
		return
	}

	allocation := b.allocation
	b.allocation = nil

	if err := b.release.Send(allocation); err != nil {
		b.logger.Error("buffer outlived its allocator, leaking its memory", slog.Any("error", err))
	}
	b.release.Close()
	b.buffer.Destroy()
}
