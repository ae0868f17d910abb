// Package allocator manages the lifetime of GPU buffers and images. It owns
// a memory engine, a transfer command buffer for staged uploads, and the
// release channel through which resource handles return their memory when
// destroyed on other goroutines.
package allocator

import (
	"runtime"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// ErrNoImageData is returned by CreateImage when a texture is requested
// without any pixel data to fill it.
var ErrNoImageData = errors.New("requested a filled image but provided no data")

// CreateOptions configures New.
type CreateOptions struct {
	// Device is the logical device resources are created on. Required.
	Device gpu.Device
	// Logger receives allocator debug output. Defaults to slog.Default().
	Logger *slog.Logger
	// CPUVisibleHeapSize overrides the host-mappable heap size.
	CPUVisibleHeapSize int
	// GPUOnlyHeapSize overrides the device-local heap size.
	GPUOnlyHeapSize int
}

// Allocator creates buffers and images and reclaims their memory after they
// are destroyed. One goroutine owns the allocator and drives it; the handles
// it creates may be moved to and destroyed on any goroutine.
type Allocator struct {
	logger *slog.Logger
	device gpu.Device
	engine *memory.Engine

	commandPool   gpu.CommandPool
	transferQueue gpu.Queue
	transferFence gpu.Fence

	stagingBuffers []*Buffer

	releaseSender   *releaseSender
	releaseReceiver *releaseReceiver
}

// New creates an allocator on the given device. The transfer command buffer
// comes back already recording; uploads recorded by Create* calls execute on
// the next Flush.
func New(options CreateOptions) (*Allocator, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("creating allocator")

	// The engine is mutex-guarded: buffers can be created and reclaimed
	// while other goroutines are still constructing resources of their own.
	engine, err := memory.NewEngine(memory.EngineOptions{
		Device:             options.Device,
		CPUVisibleHeapSize: options.CPUVisibleHeapSize,
		GPUOnlyHeapSize:    options.GPUOnlyHeapSize,
		Logger:             logger,
		UseMutex:           true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory engine")
	}

	commandPool, err := options.Device.CreateCommandPool(1)
	if err != nil {
		_ = engine.Destroy()
		return nil, errors.Wrap(err, "failed to create transfer command pool")
	}

	transferFence, err := options.Device.CreateFence()
	if err != nil {
		commandPool.Destroy()
		_ = engine.Destroy()
		return nil, errors.Wrap(err, "failed to create transfer fence")
	}

	sender, receiver := newReleaseChannel()
	allocator := &Allocator{
		logger:          logger,
		device:          options.Device,
		engine:          engine,
		commandPool:     commandPool,
		transferQueue:   options.Device.TransferQueue(),
		transferFence:   transferFence,
		releaseSender:   sender,
		releaseReceiver: receiver,
	}

	if err := allocator.commandBuffer().Begin(); err != nil {
		transferFence.Destroy()
		commandPool.Destroy()
		_ = engine.Destroy()
		return nil, errors.Wrap(err, "failed to begin transfer command buffer")
	}

	logger.Debug("successfully created allocator")
	return allocator, nil
}

func (a *Allocator) commandBuffer() gpu.CommandBuffer {
	return a.commandPool.CommandBuffer(0)
}

// Engine exposes the underlying memory engine for statistics queries.
func (a *Allocator) Engine() *memory.Engine {
	return a.engine
}

// CreateBuffer creates an uninitialized buffer in the requested memory class.
func (a *Allocator) CreateBuffer(size int, usage gpu.BufferUsageFlags, class memory.Class) (*Buffer, error) {
	return newBuffer(a, size, usage, class)
}

// CreateBufferFromData creates a buffer and fills it with data. CPU-visible
// buffers are written through their host mapping immediately; GPU-only
// buffers are filled through a staging copy that lands on the next Flush.
func (a *Allocator) CreateBufferFromData(data []byte, usage gpu.BufferUsageFlags, class memory.Class) (*Buffer, error) {
	if class == memory.ClassCPUVisible {
		buffer, err := newBuffer(a, len(data), usage, class)
		if err != nil {
			return nil, err
		}
		if err := buffer.LoadData(data); err != nil {
			buffer.Destroy()
			return nil, err
		}
		return buffer, nil
	}

	buffer, err := newBuffer(a, len(data), usage|gpu.BufferUsageTransferDst, class)
	if err != nil {
		return nil, err
	}
	if err := a.stageDataToBuffer(data, buffer); err != nil {
		buffer.Destroy()
		return nil, err
	}
	return buffer, nil
}

// CreateImage creates an image for the given purpose and records the layout
// transitions it needs. Textures additionally get their pixel data staged;
// the image is not usable until the next Flush completes the transfer work.
func (a *Allocator) CreateImage(data []byte, info gpu.ImageCreateInfo, purpose ImagePurpose) (*Image, error) {
	info.Usage = purpose.usage() | gpu.ImageUsageTransferDst
	info.InitialLayout = gpu.ImageLayoutUndefined
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.ArrayLayers == 0 {
		info.ArrayLayers = 1
	}

	image, err := newImage(a, info, purpose.aspectMask())
	if err != nil {
		return nil, err
	}

	image.prepareForTransfer(a.commandBuffer())

	if purpose == ImagePurposeTexture {
		if err := a.stageDataToImage(data, image); err != nil {
			image.Destroy()
			return nil, err
		}
	}

	image.transitionToFinal(a.commandBuffer(), purpose)
	return image, nil
}

// DownloadBuffer creates a CPU-visible buffer and records a copy of src into
// it. The contents are readable through Bytes after the next Flush. The
// source must carry gpu.BufferUsageTransferSrc.
func (a *Allocator) DownloadBuffer(src *Buffer) (*Buffer, error) {
	dst, err := newBuffer(a, src.Size(), gpu.BufferUsageTransferDst, memory.ClassCPUVisible)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download buffer")
	}

	src.copyToBuffer(a.commandBuffer(), dst)
	return dst, nil
}

func (a *Allocator) stageDataToBuffer(data []byte, dst *Buffer) error {
	staging, err := newBuffer(a, len(data), gpu.BufferUsageTransferSrc, memory.ClassCPUVisible)
	if err != nil {
		return errors.Wrap(err, "failed to create staging buffer")
	}
	if err := staging.LoadData(data); err != nil {
		staging.Destroy()
		return err
	}

	staging.copyToBuffer(a.commandBuffer(), dst)

	// The staging buffer has to survive until the copy executes; Flush
	// destroys it after the fence wait.
	a.stagingBuffers = append(a.stagingBuffers, staging)
	return nil
}

func (a *Allocator) stageDataToImage(data []byte, dst *Image) error {
	if len(data) == 0 {
		return errors.WithStack(ErrNoImageData)
	}

	expected := dst.extent.Width * dst.extent.Height * dst.extent.Depth * dst.format.TexelSize()
	if len(data) != expected {
		return errors.Newf("image of extent %dx%dx%d expects %d bytes of pixel data, got %d",
			dst.extent.Width, dst.extent.Height, dst.extent.Depth, expected, len(data))
	}

	staging, err := newBuffer(a, len(data), gpu.BufferUsageTransferSrc, memory.ClassCPUVisible)
	if err != nil {
		return errors.Wrap(err, "failed to create staging buffer")
	}
	if err := staging.LoadData(data); err != nil {
		staging.Destroy()
		return err
	}

	staging.copyToImage(a.commandBuffer(), dst, dst.extent)

	a.stagingBuffers = append(a.stagingBuffers, staging)
	return nil
}

// Flush submits all transfer work recorded since the previous Flush and waits
// for it to complete on the device. Staging buffers for the completed work
// are destroyed, and the command buffer is returned to the recording state.
func (a *Allocator) Flush() error {
	commandBuffer := a.commandBuffer()

	if err := commandBuffer.End(); err != nil {
		return errors.Wrap(err, "failed to end transfer command buffer")
	}
	if err := a.transferQueue.Submit(commandBuffer, a.transferFence); err != nil {
		a.restartRecording(commandBuffer)
		return errors.Wrap(err, "failed to submit transfer commands")
	}
	if err := a.transferFence.Wait(); err != nil {
		a.restartRecording(commandBuffer)
		return errors.Wrap(err, "failed to wait for transfer completion")
	}
	if err := a.transferFence.Reset(); err != nil {
		a.restartRecording(commandBuffer)
		return errors.Wrap(err, "failed to reset transfer fence")
	}
	if err := commandBuffer.Reset(); err != nil {
		return errors.Wrap(err, "failed to reset transfer command buffer")
	}

	for _, staging := range a.stagingBuffers {
		staging.Destroy()
	}
	a.stagingBuffers = a.stagingBuffers[:0]

	if err := commandBuffer.Begin(); err != nil {
		return errors.Wrap(err, "failed to restart transfer command buffer")
	}
	return nil
}

// restartRecording returns the command buffer to the recording state after a
// failed flush. The recorded commands of the failed submission are discarded;
// any staging buffers for them stay queued and are destroyed on the next
// successful Flush or on Cleanup.
func (a *Allocator) restartRecording(commandBuffer gpu.CommandBuffer) {
	if err := commandBuffer.Reset(); err != nil {
		a.logger.Error("failed to reset transfer command buffer after a failed flush", slog.Any("error", err))
		return
	}
	if err := commandBuffer.Begin(); err != nil {
		a.logger.Error("failed to restart transfer command buffer after a failed flush", slog.Any("error", err))
	}
}

// ProcessDeallocations drains the release channel and reclaims the memory of
// every resource destroyed since the previous pass. Returns
// ErrReleaseDisconnected once all resource handles and the allocator's own
// sender are gone, which signals that teardown can finish.
func (a *Allocator) ProcessDeallocations() error {
	for {
		allocation, err := a.releaseReceiver.TryRecv()
		switch {
		case err == nil:
			a.freeAllocation(allocation)
		case errors.Is(err, errReleaseEmpty):
			return nil
		default:
			return err
		}
	}
}

func (a *Allocator) freeAllocation(allocation *memory.Allocation) {
	if err := a.engine.Free(allocation); err != nil {
		a.logger.Error("failed to reclaim released memory", slog.Any("error", err))
	}
}

// Cleanup closes the allocator's own sender and drains the release channel
// until every outstanding resource handle has been destroyed and reclaimed.
// It blocks until the owners of those handles let go of them.
func (a *Allocator) Cleanup() {
	a.logger.Debug("allocator waiting for outstanding resources")

	// Staging buffers hold their own senders on the release channel, and
	// nothing else will ever destroy them once teardown starts.
	for _, staging := range a.stagingBuffers {
		staging.Destroy()
	}
	a.stagingBuffers = nil

	a.releaseSender.Close()

	for {
		err := a.ProcessDeallocations()
		if errors.Is(err, ErrReleaseDisconnected) {
			break
		}
		runtime.Gosched()
	}
	a.logger.Debug("allocator reclaimed all outstanding resources")
}

// Destroy tears down the allocator. Cleanup must have completed first so that
// no allocation is outstanding in the engine.
func (a *Allocator) Destroy() error {
	a.releaseReceiver.close()

	a.transferFence.Destroy()
	a.commandPool.Destroy()

	if err := a.engine.Destroy(); err != nil {
		return errors.Wrap(err, "failed to destroy memory engine")
	}
	a.logger.Debug("allocator destroyed")
	return nil
}
