// Package gputest provides an in-memory implementation of the gpu interfaces.
// Buffers and images are backed by host slices, command buffers record
// closures, and submitting a command buffer executes them and signals the
// fence, so staged uploads behave observably like a synchronous driver.
package gputest

import (
	"sync"
	"sync/atomic"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
)

const (
	bufferAlignment = 16
	imageAlignment  = 256
)

// Device is an in-memory gpu.Device. The zero value is not usable; create
// one with NewDevice.
type Device struct {
	mu sync.Mutex

	liveBuffers int
	liveImages  int
	liveMemory  int

	failBufferCreate error
	failBufferBind   error
	failImageCreate  error
	failImageBind    error

	nextAddress uint64

	queue *queue
}

func NewDevice() *Device {
	d := &Device{nextAddress: 0x10000}
	d.queue = &queue{device: d}
	return d
}

// LiveBuffers reports the number of created but not yet destroyed buffers.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveBuffers
}

// LiveImages reports the number of created but not yet destroyed images.
func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveImages
}

// LiveMemoryBlocks reports the number of allocated but not yet freed device
// memory blocks.
func (d *Device) LiveMemoryBlocks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveMemory
}

// FailNextBufferCreate makes the next CreateBuffer call fail with err.
func (d *Device) FailNextBufferCreate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBufferCreate = err
}

// FailNextBufferBind makes the next Buffer.BindMemory call fail with err.
func (d *Device) FailNextBufferBind(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBufferBind = err
}

// FailNextImageCreate makes the next CreateImage call fail with err.
func (d *Device) FailNextImageCreate(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failImageCreate = err
}

// FailNextImageBind makes the next Image.BindMemory call fail with err.
func (d *Device) FailNextImageBind(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failImageBind = err
}

func (d *Device) AllocateMemory(size int, hostVisible bool) (gpu.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.liveMemory++
	return &deviceMemory{
		device:      d,
		bytes:       make([]byte, size),
		hostVisible: hostVisible,
	}, nil
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsageFlags) (gpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failBufferCreate != nil {
		err := d.failBufferCreate
		d.failBufferCreate = nil
		return nil, err
	}

	d.liveBuffers++
	d.nextAddress += 0x1000
	return &buffer{
		device:  d,
		size:    size,
		usage:   usage,
		address: d.nextAddress,
	}, nil
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failImageCreate != nil {
		err := d.failImageCreate
		d.failImageCreate = nil
		return nil, err
	}

	size := info.Extent.Width * info.Extent.Height * info.Extent.Depth * info.Format.TexelSize()
	d.liveImages++
	return &image{
		device: d,
		info:   info,
		size:   size,
		layout: info.InitialLayout,
	}, nil
}

func (d *Device) CreateCommandPool(bufferCount int) (gpu.CommandPool, error) {
	pool := &commandPool{device: d}
	for i := 0; i < bufferCount; i++ {
		pool.buffers = append(pool.buffers, &commandBuffer{device: d})
	}
	return pool, nil
}

func (d *Device) CreateFence() (gpu.Fence, error) {
	return &fence{}, nil
}

func (d *Device) TransferQueue() gpu.Queue {
	return d.queue
}

type deviceMemory struct {
	device      *Device
	bytes       []byte
	hostVisible bool
	freed       atomic.Bool
}

func (m *deviceMemory) Size() int {
	return len(m.bytes)
}

func (m *deviceMemory) MappedBytes() []byte {
	if !m.hostVisible {
		return nil
	}
	return m.bytes
}

func (m *deviceMemory) Free() {
	if m.freed.Swap(true) {
		panic("gputest: device memory freed twice")
	}
	m.device.mu.Lock()
	defer m.device.mu.Unlock()
	m.device.liveMemory--
}

type buffer struct {
	device  *Device
	size    int
	usage   gpu.BufferUsageFlags
	address uint64

	mem       *deviceMemory
	memOffset int
	destroyed atomic.Bool
}

func (b *buffer) MemoryRequirements() gpu.MemoryRequirements {
	return gpu.MemoryRequirements{Size: b.size, Alignment: bufferAlignment}
}

func (b *buffer) BindMemory(mem gpu.DeviceMemory, offset int) error {
	b.device.mu.Lock()
	defer b.device.mu.Unlock()

	if d := b.device; d.failBufferBind != nil {
		err := d.failBufferBind
		d.failBufferBind = nil
		return err
	}
	if b.mem != nil {
		return errors.New("gputest: buffer bound twice")
	}
	backing, ok := mem.(*deviceMemory)
	if !ok {
		return errors.New("gputest: memory block from a foreign device")
	}
	if offset+b.size > len(backing.bytes) {
		return errors.Newf("gputest: bind of %d bytes at offset %d overruns %d byte block", b.size, offset, len(backing.bytes))
	}
	b.mem = backing
	b.memOffset = offset
	return nil
}

func (b *buffer) DeviceAddress() uint64 {
	return b.address
}

func (b *buffer) Destroy() {
	if b.destroyed.Swap(true) {
		panic("gputest: buffer destroyed twice")
	}
	b.device.mu.Lock()
	defer b.device.mu.Unlock()
	b.device.liveBuffers--
}

// backing returns the bound bytes of the buffer for command execution.
func (b *buffer) backing() ([]byte, error) {
	if b.mem == nil {
		return nil, errors.New("gputest: command references an unbound buffer")
	}
	if b.destroyed.Load() {
		return nil, errors.New("gputest: command references a destroyed buffer")
	}
	return b.mem.bytes[b.memOffset : b.memOffset+b.size], nil
}

type image struct {
	device *Device
	info   gpu.ImageCreateInfo
	size   int
	layout gpu.ImageLayout

	mem       *deviceMemory
	memOffset int
	destroyed atomic.Bool
}

func (i *image) MemoryRequirements() gpu.MemoryRequirements {
	return gpu.MemoryRequirements{Size: i.size, Alignment: imageAlignment}
}

func (i *image) BindMemory(mem gpu.DeviceMemory, offset int) error {
	i.device.mu.Lock()
	defer i.device.mu.Unlock()

	if d := i.device; d.failImageBind != nil {
		err := d.failImageBind
		d.failImageBind = nil
		return err
	}
	if i.mem != nil {
		return errors.New("gputest: image bound twice")
	}
	backing, ok := mem.(*deviceMemory)
	if !ok {
		return errors.New("gputest: memory block from a foreign device")
	}
	if offset+i.size > len(backing.bytes) {
		return errors.Newf("gputest: bind of %d bytes at offset %d overruns %d byte block", i.size, offset, len(backing.bytes))
	}
	i.mem = backing
	i.memOffset = offset
	return nil
}

func (i *image) CreateView(format gpu.Format, aspect gpu.ImageAspectFlags) (gpu.ImageView, error) {
	if i.destroyed.Load() {
		return nil, errors.New("gputest: view of a destroyed image")
	}
	return &imageView{}, nil
}

func (i *image) Destroy() {
	if i.destroyed.Swap(true) {
		panic("gputest: image destroyed twice")
	}
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	i.device.liveImages--
}

// Layout reports the image's current layout as driven by recorded barriers.
func (i *image) Layout() gpu.ImageLayout {
	i.device.mu.Lock()
	defer i.device.mu.Unlock()
	return i.layout
}

func (i *image) backing() ([]byte, error) {
	if i.mem == nil {
		return nil, errors.New("gputest: command references an unbound image")
	}
	if i.destroyed.Load() {
		return nil, errors.New("gputest: command references a destroyed image")
	}
	return i.mem.bytes[i.memOffset : i.memOffset+i.size], nil
}

type imageView struct{}

func (v *imageView) Destroy() {}
