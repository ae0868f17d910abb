package gpu

// Device is the logical-device boundary between the engine and the graphics
// driver. Every blocking or fallible driver operation the engine core performs
// goes through this interface, so the core can run against the Vulkan
// implementation in gpu/vulkan or the in-memory device in gpu/gputest without
// change.
//
// A Device must remain usable for as long as any object created from it is
// alive: resource handles may be destroyed from arbitrary goroutines after
// their owning allocator has begun teardown, and they destroy their driver
// objects through the device that created them.
type Device interface {
	// AllocateMemory reserves a block of device memory. hostVisible selects
	// a memory type the CPU can map; non-host-visible memory can only be
	// written through transfer commands.
	AllocateMemory(size int, hostVisible bool) (DeviceMemory, error)

	// CreateBuffer creates an unbound buffer object. The buffer has no
	// backing memory until BindMemory is called on it.
	CreateBuffer(size int, usage BufferUsageFlags) (Buffer, error)

	// CreateImage creates an unbound image object in info.InitialLayout.
	CreateImage(info ImageCreateInfo) (Image, error)

	// CreateCommandPool creates a pool on the device's transfer queue family
	// with bufferCount primary command buffers ready for recording.
	CreateCommandPool(bufferCount int) (CommandPool, error)

	// CreateFence creates an unsignaled fence.
	CreateFence() (Fence, error)

	// TransferQueue returns the queue transfer command buffers are
	// submitted to.
	TransferQueue() Queue
}

// DeviceMemory is one block of memory reserved from the device. The engine's
// memory engine suballocates resource memory out of these blocks.
type DeviceMemory interface {
	// Size returns the byte size of the block.
	Size() int

	// MappedBytes returns the host-mapped view of the block, or nil if the
	// block was not allocated host-visible.
	MappedBytes() []byte

	// Free releases the block back to the device. No resource may be bound
	// to any part of the block when it is freed.
	Free()
}

// Buffer is an unbound or bound driver buffer object.
type Buffer interface {
	MemoryRequirements() MemoryRequirements

	// BindMemory attaches backing memory at the given block offset. A buffer
	// may be bound at most once.
	BindMemory(mem DeviceMemory, offset int) error

	// DeviceAddress returns the buffer's GPU-side address for descriptor
	// buffer use. Only valid after a successful BindMemory.
	DeviceAddress() uint64

	Destroy()
}

// Image is an unbound or bound driver image object.
type Image interface {
	MemoryRequirements() MemoryRequirements

	// BindMemory attaches backing memory at the given block offset. An image
	// may be bound at most once.
	BindMemory(mem DeviceMemory, offset int) error

	// CreateView creates a view of the whole image for descriptor binding.
	CreateView(format Format, aspect ImageAspectFlags) (ImageView, error)

	Destroy()
}

// ImageView is a shader-visible view over an Image.
type ImageView interface {
	Destroy()
}

// CommandPool owns a fixed set of command buffers.
type CommandPool interface {
	CommandBuffer(index int) CommandBuffer
	Destroy()
}

// CommandBuffer records transfer commands for a single submission. The
// allocator keeps its transfer command buffer in the recording state at all
// times except during the submit/wait/reset window of a flush.
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error

	CmdCopyBuffer(src Buffer, dst Buffer, regions []BufferCopy)
	CmdCopyBufferToImage(src Buffer, dst Image, dstLayout ImageLayout, regions []BufferImageCopy)
	CmdPipelineBarrier(srcStage PipelineStageFlags, dstStage PipelineStageFlags, imageBarriers []ImageMemoryBarrier)
}

// Queue accepts recorded command buffers for execution.
type Queue interface {
	// Submit enqueues the command buffer and signals fence when execution
	// completes. The command buffer must have been ended.
	Submit(commandBuffer CommandBuffer, fence Fence) error
}

// Fence is a device-to-host synchronization primitive.
type Fence interface {
	// Wait blocks until the fence is signaled. There is no timeout; a
	// transfer submission completes only when the device says so.
	Wait() error
	Reset() error
	Destroy()
}
