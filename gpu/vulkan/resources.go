package vulkan

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"golang.org/x/exp/slog"
)

type buffer struct {
	device       *Device
	buffer       core1_0.Buffer
	wantsAddress bool
	address      uint64
}

func (b *buffer) MemoryRequirements() gpu.MemoryRequirements {
	requirements := b.buffer.MemoryRequirements()
	return gpu.MemoryRequirements{
		Size:      requirements.Size,
		Alignment: requirements.Alignment,
	}
}

func (b *buffer) BindMemory(mem gpu.DeviceMemory, offset int) error {
	memory := mem.(*deviceMemory)
	_, err := b.buffer.BindBufferMemory(memory.memory, offset)
	if err != nil {
		return errors.Wrap(err, "failed to bind buffer memory")
	}

	if b.wantsAddress {
		if b.device.deviceAddress == nil {
			return errors.New("buffer requested a device address but khr_buffer_device_address is not active")
		}
		address, err := b.device.deviceAddress.GetBufferDeviceAddress(
			b.device.device,
			khr_buffer_device_address.BufferDeviceAddressInfo{Buffer: b.buffer},
		)
		if err != nil {
			return errors.Wrap(err, "failed to query buffer device address")
		}
		b.address = address
	}
	return nil
}

func (b *buffer) DeviceAddress() uint64 {
	if b.wantsAddress && b.address == 0 {
		b.device.logger.Error("buffer device address queried before binding", slog.Any("buffer", b.buffer))
	}
	return b.address
}

func (b *buffer) Destroy() {
	b.buffer.Destroy(b.device.callbacks)
}

type image struct {
	device *Device
	image  core1_0.Image
	format gpu.Format
}

func (i *image) MemoryRequirements() gpu.MemoryRequirements {
	requirements := i.image.MemoryRequirements()
	return gpu.MemoryRequirements{
		Size:      requirements.Size,
		Alignment: requirements.Alignment,
	}
}

func (i *image) BindMemory(mem gpu.DeviceMemory, offset int) error {
	memory := mem.(*deviceMemory)
	_, err := i.image.BindImageMemory(memory.memory, offset)
	if err != nil {
		return errors.Wrap(err, "failed to bind image memory")
	}
	return nil
}

func (i *image) CreateView(format gpu.Format, aspect gpu.ImageAspectFlags) (gpu.ImageView, error) {
	view, _, err := i.device.device.CreateImageView(i.device.callbacks, core1_0.ImageViewCreateInfo{
		Image:    i.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   formatMapping[format],
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: convertAspect(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create image view")
	}
	return &imageView{device: i.device, view: view}, nil
}

func (i *image) Destroy() {
	i.image.Destroy(i.device.callbacks)
}

type imageView struct {
	device *Device
	view   core1_0.ImageView
}

func (v *imageView) Destroy() {
	v.view.Destroy(v.device.callbacks)
}
