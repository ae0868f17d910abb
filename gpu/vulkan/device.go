// Package vulkan implements the gpu interfaces over vkngwrapper. It assumes
// a device created with the khr_buffer_device_address extension (or Vulkan
// 1.2) when buffers request device addresses.
package vulkan

import (
	"unsafe"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"golang.org/x/exp/slog"
)

// Options configures NewDevice.
type Options struct {
	// TransferQueueFamilyIndex selects the queue family transfer command
	// buffers are submitted to.
	TransferQueueFamilyIndex int
	// AllocationCallbacks passes host allocation callbacks through to every
	// driver call. May be nil.
	AllocationCallbacks *driver.AllocationCallbacks
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Device adapts a vkngwrapper logical device to the gpu.Device boundary.
type Device struct {
	logger         *slog.Logger
	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	callbacks      *driver.AllocationCallbacks
	transferQueue  core1_0.Queue
	transferFamily int
	deviceAddress  khr_buffer_device_address.Extension
}

// NewDevice wraps an already-created logical device. The device must outlive
// every resource created through it.
func NewDevice(physicalDevice core1_0.PhysicalDevice, device core1_0.Device, options Options) *Device {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var deviceAddress khr_buffer_device_address.Extension
	if device.IsDeviceExtensionActive(khr_buffer_device_address.ExtensionName) {
		deviceAddress = khr_buffer_device_address.CreateExtensionFromDevice(device)
	}

	return &Device{
		logger:         logger,
		physicalDevice: physicalDevice,
		device:         device,
		callbacks:      options.AllocationCallbacks,
		transferQueue:  device.GetQueue(options.TransferQueueFamilyIndex, 0),
		transferFamily: options.TransferQueueFamilyIndex,
		deviceAddress:  deviceAddress,
	}
}

func (d *Device) findMemoryType(hostVisible bool) (int, error) {
	var required core1_0.MemoryPropertyFlags
	if hostVisible {
		required = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	} else {
		required = core1_0.MemoryPropertyDeviceLocal
	}

	properties := d.physicalDevice.MemoryProperties()
	for index, memoryType := range properties.MemoryTypes {
		if memoryType.PropertyFlags&required == required {
			return index, nil
		}
	}
	return 0, errors.Newf("no device memory type provides properties %s", required)
}

// AllocateMemory reserves one block of device memory and, for host-visible
// blocks, maps it for the lifetime of the block.
func (d *Device) AllocateMemory(size int, hostVisible bool) (gpu.DeviceMemory, error) {
	typeIndex, err := d.findMemoryType(hostVisible)
	if err != nil {
		return nil, err
	}

	memory, _, err := d.device.AllocateMemory(d.callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: typeIndex,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes of device memory", size)
	}

	var mapped []byte
	if hostVisible {
		pointer, _, err := memory.Map(0, size, 0)
		if err != nil {
			memory.Free(d.callbacks)
			return nil, errors.Wrap(err, "failed to map host-visible device memory")
		}
		mapped = unsafe.Slice((*byte)(pointer), size)
	}

	return &deviceMemory{
		memory:    memory,
		callbacks: d.callbacks,
		size:      size,
		mapped:    mapped,
	}, nil
}

// CreateBuffer creates an unbound exclusive-sharing buffer.
func (d *Device) CreateBuffer(size int, usage gpu.BufferUsageFlags) (gpu.Buffer, error) {
	// Vulkan rejects zero-size buffers; the memory engine already reserves a
	// real region for zero-size requests, the buffer object follows suit.
	if size == 0 {
		size = 1
	}

	vkBuffer, _, err := d.device.CreateBuffer(d.callbacks, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       convertBufferUsage(usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a %d-byte buffer", size)
	}

	return &buffer{
		device:       d,
		buffer:       vkBuffer,
		wantsAddress: usage&gpu.BufferUsageShaderDeviceAddress != 0,
	}, nil
}

// CreateImage creates an unbound optimal-tiling 2D image.
func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, error) {
	vkImage, _, err := d.device.CreateImage(d.callbacks, core1_0.ImageCreateInfo{
		ImageType:     core1_0.ImageType2D,
		Format:        formatMapping[info.Format],
		Extent:        convertExtent(info.Extent),
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         convertImageUsage(info.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: layoutMapping[info.InitialLayout],
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create a %dx%d image", info.Extent.Width, info.Extent.Height)
	}

	return &image{device: d, image: vkImage, format: info.Format}, nil
}

// CreateCommandPool creates a resettable pool on the transfer queue family
// with bufferCount primary command buffers.
func (d *Device) CreateCommandPool(bufferCount int) (gpu.CommandPool, error) {
	pool, _, err := d.device.CreateCommandPool(d.callbacks, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: d.transferFamily,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create command pool")
	}

	vkBuffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: bufferCount,
	})
	if err != nil {
		pool.Destroy(d.callbacks)
		return nil, errors.Wrapf(err, "failed to allocate %d command buffers", bufferCount)
	}

	buffers := make([]gpu.CommandBuffer, len(vkBuffers))
	for i, vkBuffer := range vkBuffers {
		buffers[i] = &commandBuffer{buffer: vkBuffer}
	}
	return &commandPool{device: d, pool: pool, buffers: buffers}, nil
}

// CreateFence creates an unsignaled fence.
func (d *Device) CreateFence() (gpu.Fence, error) {
	vkFence, _, err := d.device.CreateFence(d.callbacks, core1_0.FenceCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fence")
	}
	return &fence{device: d, fence: vkFence}, nil
}

// TransferQueue returns the transfer submission queue.
func (d *Device) TransferQueue() gpu.Queue {
	return &queue{queue: d.transferQueue}
}

type deviceMemory struct {
	memory    core1_0.DeviceMemory
	callbacks *driver.AllocationCallbacks
	size      int
	mapped    []byte
}

func (m *deviceMemory) Size() int {
	return m.size
}

func (m *deviceMemory) MappedBytes() []byte {
	return m.mapped
}

func (m *deviceMemory) Free() {
	if m.mapped != nil {
		m.memory.Unmap()
		m.mapped = nil
	}
	m.memory.Free(m.callbacks)
}
