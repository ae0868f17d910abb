package allocator

import (
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/gpu/gputest"
	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func readyAllocator(t *testing.T, options CreateOptions) (*gputest.Device, *Allocator) {
	t.Helper()

	device := gputest.NewDevice()
	options.Device = device
	options.Logger = slog.New(slog.NewJSONHandler(io.Discard))

	allocator, err := New(options)
	require.NoError(t, err)
	return device, allocator
}

func teardownAllocator(t *testing.T, device *gputest.Device, allocator *Allocator) {
	t.Helper()

	allocator.Cleanup()
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveImages())
}

func pattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestCreateBufferCPUVisible(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	buffer, err := allocator.CreateBuffer(1024, gpu.BufferUsageVertexBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)
	require.Equal(t, 1024, buffer.Size())
	require.NotZero(t, buffer.DeviceAddress())

	data := pattern(1024)
	require.NoError(t, buffer.LoadData(data))

	mapped, err := buffer.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, mapped)

	buffer.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())

	teardownAllocator(t, device, allocator)
}

func TestLoadDataSizeHandling(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	buffer, err := allocator.CreateBuffer(16, gpu.BufferUsageVertexBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)

	// Oversized data is rejected; shorter data fills a prefix.
	require.Error(t, buffer.LoadData(make([]byte, 17)))
	require.NoError(t, buffer.LoadData([]byte{1, 2, 3}))

	mapped, err := buffer.Bytes()
	require.NoError(t, err)
	require.Len(t, mapped, 16)
	require.Equal(t, []byte{1, 2, 3}, mapped[:3])

	buffer.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

// roundingDevice pads buffer memory requirements up to a fixed granularity,
// the way real drivers round requirements to alignment or atom-size
// multiples.
type roundingDevice struct {
	*gputest.Device
}

func (d *roundingDevice) CreateBuffer(size int, usage gpu.BufferUsageFlags) (gpu.Buffer, error) {
	const granularity = 256
	padded := (size + granularity - 1) &^ (granularity - 1)
	if padded == 0 {
		padded = granularity
	}
	return d.Device.CreateBuffer(padded, usage)
}

// A driver may report memory requirements above the requested buffer size.
// The handle still reports the requested size, maps exactly the requested
// bytes, and round-trips data whose length is not a multiple of the rounding.
func TestBufferRoundedMemoryRequirements(t *testing.T) {
	base := gputest.NewDevice()
	device := &roundingDevice{Device: base}

	allocator, err := New(CreateOptions{
		Device: device,
		Logger: slog.New(slog.NewJSONHandler(io.Discard)),
	})
	require.NoError(t, err)

	data := pattern(1000)

	direct, err := allocator.CreateBufferFromData(data, gpu.BufferUsageUniformBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)
	require.Equal(t, 1000, direct.Size())

	mapped, err := direct.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, mapped)

	// The staged path rounds the same way on both ends of the copy.
	src, err := allocator.CreateBufferFromData(data, gpu.BufferUsageVertexBuffer|gpu.BufferUsageTransferSrc, memory.ClassGPUOnly)
	require.NoError(t, err)

	dst, err := allocator.DownloadBuffer(src)
	require.NoError(t, err)
	require.NoError(t, allocator.Flush())

	downloaded, err := dst.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, downloaded)

	direct.Destroy()
	src.Destroy()
	dst.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())

	allocator.Cleanup()
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, base.LiveMemoryBlocks())
	require.Equal(t, 0, base.LiveBuffers())
}

// Uploading to a GPU-only buffer and downloading it back must reproduce the
// input exactly, for the empty buffer and for sizes around and between
// alignment boundaries.
func TestUploadDownloadRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 4096, 1000}

	for _, size := range sizes {
		device, allocator := readyAllocator(t, CreateOptions{})
		data := pattern(size)

		src, err := allocator.CreateBufferFromData(data, gpu.BufferUsageVertexBuffer|gpu.BufferUsageTransferSrc, memory.ClassGPUOnly)
		require.NoError(t, err)

		dst, err := allocator.DownloadBuffer(src)
		require.NoError(t, err)

		require.NoError(t, allocator.Flush())

		downloaded, err := dst.Bytes()
		require.NoError(t, err)
		require.Equal(t, data, downloaded)

		src.Destroy()
		dst.Destroy()
		require.NoError(t, allocator.ProcessDeallocations())
		require.Equal(t, 0, allocator.Engine().OutstandingAllocations())
		teardownAllocator(t, device, allocator)
	}
}

func TestCreateBufferFromDataCPUVisibleSkipsStaging(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})
	data := pattern(512)

	buffer, err := allocator.CreateBufferFromData(data, gpu.BufferUsageUniformBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)

	// No staging buffer, no flush needed: the data is readable immediately.
	require.Equal(t, 1, device.LiveBuffers())
	mapped, err := buffer.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, mapped)

	buffer.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

func TestFlushRetiresStagingBuffers(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	buffer, err := allocator.CreateBufferFromData(pattern(256), gpu.BufferUsageVertexBuffer, memory.ClassGPUOnly)
	require.NoError(t, err)

	// The staging buffer stays alive until the copy is confirmed complete.
	require.Equal(t, 2, device.LiveBuffers())

	require.NoError(t, allocator.Flush())
	require.NoError(t, allocator.ProcessDeallocations())
	require.Equal(t, 1, device.LiveBuffers())
	require.Equal(t, 1, allocator.Engine().OutstandingAllocations())

	buffer.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

// A failed flush must leave the transfer command buffer in the recording
// state so later uploads still have somewhere to land.
func TestFlushFailureKeepsCommandBufferRecording(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	doomed, err := allocator.CreateBufferFromData(pattern(64), gpu.BufferUsageVertexBuffer, memory.ClassGPUOnly)
	require.NoError(t, err)

	// Destroying the copy destination before the transfer executes makes
	// the submission fail.
	doomed.Destroy()
	require.Error(t, allocator.Flush())

	// The allocator keeps working: new transfer work records and flushes.
	data := pattern(32)
	next, err := allocator.CreateBufferFromData(data, gpu.BufferUsageVertexBuffer|gpu.BufferUsageTransferSrc, memory.ClassGPUOnly)
	require.NoError(t, err)

	dst, err := allocator.DownloadBuffer(next)
	require.NoError(t, err)
	require.NoError(t, allocator.Flush())

	downloaded, err := dst.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, downloaded)

	next.Destroy()
	dst.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

func TestCreateBufferAllocationFailure(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{GPUOnlyHeapSize: 1024})

	_, err := allocator.CreateBuffer(2048, gpu.BufferUsageVertexBuffer, memory.ClassGPUOnly)
	require.ErrorIs(t, err, memory.ErrOutOfMemory)

	// The driver object must not outlive the failed call.
	require.Equal(t, 0, device.LiveBuffers())
	teardownAllocator(t, device, allocator)
}

// A bind failure after a successful allocation must return the allocation to
// the engine: with an exact-fit heap, the same request succeeds afterwards.
func TestCreateBufferBindFailureRecovers(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{CPUVisibleHeapSize: 1024})

	device.FailNextBufferBind(errors.New("bind rejected"))
	_, err := allocator.CreateBuffer(1024, gpu.BufferUsageVertexBuffer, memory.ClassCPUVisible)
	require.Error(t, err)
	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())

	buffer, err := allocator.CreateBuffer(1024, gpu.BufferUsageVertexBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)

	buffer.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

// Handles dropped in any order and on any goroutine must each reach the
// reclamation path exactly once. Repeated Destroy of the same handle is a
// no-op.
func TestDeallocationExactlyOnce(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	const bufferCount = 64
	buffers := make([]*Buffer, bufferCount)
	for i := range buffers {
		buffer, err := allocator.CreateBuffer(64, gpu.BufferUsageStorageBuffer, memory.ClassCPUVisible)
		require.NoError(t, err)
		buffers[i] = buffer
	}
	require.Equal(t, bufferCount, allocator.Engine().OutstandingAllocations())

	var wg sync.WaitGroup
	for _, buffer := range buffers {
		buffer := buffer
		wg.Add(1)
		go func() {
			defer wg.Done()
			buffer.Destroy()
			buffer.Destroy()
		}()
	}
	wg.Wait()

	require.NoError(t, allocator.ProcessDeallocations())
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())
	teardownAllocator(t, device, allocator)
}

func TestCreateImageTexture(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	extent := gpu.Extent3D{Width: 4, Height: 4, Depth: 1}
	data := pattern(extent.Width * extent.Height * gpu.FormatR8G8B8A8SRGB.TexelSize())

	image, err := allocator.CreateImage(data, gpu.ImageCreateInfo{
		Format: gpu.FormatR8G8B8A8SRGB,
		Extent: extent,
	}, ImagePurposeTexture)
	require.NoError(t, err)

	require.NoError(t, allocator.Flush())
	require.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, gputest.ImageLayout(image.Handle()))

	view, err := image.CreateView()
	require.NoError(t, err)
	view.Destroy()

	image.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

func TestCreateImageDepthBuffer(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	// Depth buffers start empty: nil data is fine here.
	image, err := allocator.CreateImage(nil, gpu.ImageCreateInfo{
		Format: gpu.FormatD32SFloat,
		Extent: gpu.Extent3D{Width: 8, Height: 8, Depth: 1},
	}, ImagePurposeDepthBuffer)
	require.NoError(t, err)

	require.NoError(t, allocator.Flush())
	require.Equal(t, gpu.ImageLayoutDepthAttachmentOptimal, gputest.ImageLayout(image.Handle()))

	image.Destroy()
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

// Requesting a texture without pixel data is a contract violation: the call
// fails, and one deallocation pass restores the allocation baseline.
func TestCreateImageEmptyTextureData(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.CreateImage(nil, gpu.ImageCreateInfo{
		Format: gpu.FormatR8G8B8A8SRGB,
		Extent: gpu.Extent3D{Width: 4, Height: 4, Depth: 1},
	}, ImagePurposeTexture)
	require.ErrorIs(t, err, ErrNoImageData)

	require.Equal(t, 0, device.LiveImages())
	require.NoError(t, allocator.ProcessDeallocations())
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())

	teardownAllocator(t, device, allocator)
}

func TestCreateImageWrongDataSize(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	_, err := allocator.CreateImage(pattern(7), gpu.ImageCreateInfo{
		Format: gpu.FormatR8G8B8A8SRGB,
		Extent: gpu.Extent3D{Width: 4, Height: 4, Depth: 1},
	}, ImagePurposeTexture)
	require.Error(t, err)

	require.Equal(t, 0, device.LiveImages())
	require.NoError(t, allocator.ProcessDeallocations())
	teardownAllocator(t, device, allocator)
}

// Cleanup must return once every handle has been dropped, even when the
// drops race with Cleanup itself from many goroutines.
func TestCleanupTermination(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	const workers = 8
	const buffersPerWorker = 100

	var wg sync.WaitGroup
	for worker := 0; worker < workers; worker++ {
		seed := int64(worker)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < buffersPerWorker; i++ {
				size := 1 + rng.Intn(1024)
				buffer, err := allocator.CreateBuffer(size, gpu.BufferUsageStorageBuffer, memory.ClassCPUVisible)
				if err != nil {
					t.Error(err)
					return
				}
				buffer.Destroy()
			}
		}()
	}
	wg.Wait()

	allocator.Cleanup()
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
}

func TestCleanupWaitsForConcurrentDrops(t *testing.T) {
	device, allocator := readyAllocator(t, CreateOptions{})

	const bufferCount = 32
	buffers := make([]*Buffer, bufferCount)
	for i := range buffers {
		buffer, err := allocator.CreateBuffer(128, gpu.BufferUsageStorageBuffer, memory.ClassCPUVisible)
		require.NoError(t, err)
		buffers[i] = buffer
	}

	var wg sync.WaitGroup
	for _, buffer := range buffers {
		buffer := buffer
		wg.Add(1)
		go func() {
			defer wg.Done()
			buffer.Destroy()
		}()
	}

	// Cleanup blocks until the drops above have all arrived.
	allocator.Cleanup()
	wg.Wait()

	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())
	require.NoError(t, allocator.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
	require.Equal(t, 0, device.LiveBuffers())
}

func TestProcessDeallocationsReportsDisconnect(t *testing.T) {
	_, allocator := readyAllocator(t, CreateOptions{})

	buffer, err := allocator.CreateBuffer(64, gpu.BufferUsageStorageBuffer, memory.ClassCPUVisible)
	require.NoError(t, err)
	buffer.Destroy()

	allocator.releaseSender.Close()

	// The queued deallocation is drained before the disconnect is reported.
	require.ErrorIs(t, allocator.ProcessDeallocations(), ErrReleaseDisconnected)
	require.Equal(t, 0, allocator.Engine().OutstandingAllocations())

	require.NoError(t, allocator.Destroy())
}
