package gputest

import (
	"sync"

	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
)

type commandPool struct {
	device  *Device
	buffers []*commandBuffer
}

func (p *commandPool) CommandBuffer(index int) gpu.CommandBuffer {
	return p.buffers[index]
}

func (p *commandPool) Destroy() {}

// commandBuffer records commands as closures. Nothing observable happens
// until the buffer is submitted; this mirrors a real driver closely enough
// to catch use of staged data before a flush.
type commandBuffer struct {
	device    *Device
	mu        sync.Mutex
	recording bool
	ended     bool
	commands  []func() error
}

func (c *commandBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return errors.New("gputest: Begin on a command buffer already recording")
	}
	c.recording = true
	c.ended = false
	return nil
}

func (c *commandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return errors.New("gputest: End on a command buffer that is not recording")
	}
	c.recording = false
	c.ended = true
	return nil
}

func (c *commandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		return errors.New("gputest: Reset on a command buffer still recording")
	}
	c.commands = nil
	c.ended = false
	return nil
}

func (c *commandBuffer) record(cmd func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		panic("gputest: command recorded outside Begin/End")
	}
	c.commands = append(c.commands, cmd)
}

func (c *commandBuffer) CmdCopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions []gpu.BufferCopy) {
	srcBuf := src.(*buffer)
	dstBuf := dst.(*buffer)
	copied := append([]gpu.BufferCopy(nil), regions...)

	c.record(func() error {
		srcBytes, err := srcBuf.backing()
		if err != nil {
			return err
		}
		dstBytes, err := dstBuf.backing()
		if err != nil {
			return err
		}
		for _, region := range copied {
			if region.SrcOffset+region.Size > len(srcBytes) || region.DstOffset+region.Size > len(dstBytes) {
				return errors.Newf("gputest: buffer copy of %d bytes out of range", region.Size)
			}
			copy(dstBytes[region.DstOffset:region.DstOffset+region.Size], srcBytes[region.SrcOffset:region.SrcOffset+region.Size])
		}
		return nil
	})
}

func (c *commandBuffer) CmdCopyBufferToImage(src gpu.Buffer, dst gpu.Image, dstLayout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	srcBuf := src.(*buffer)
	dstImg := dst.(*image)
	copied := append([]gpu.BufferImageCopy(nil), regions...)

	c.record(func() error {
		srcBytes, err := srcBuf.backing()
		if err != nil {
			return err
		}
		dstBytes, err := dstImg.backing()
		if err != nil {
			return err
		}
		if dstImg.layout != dstLayout {
			return errors.Newf("gputest: image copy expects layout %d but image is in layout %d", dstLayout, dstImg.layout)
		}
		for _, region := range copied {
			texels := region.ImageExtent.Width * region.ImageExtent.Height * region.ImageExtent.Depth
			size := texels * dstImg.info.Format.TexelSize()
			if size > len(dstBytes) {
				size = len(dstBytes)
			}
			if region.BufferOffset+size > len(srcBytes) {
				return errors.Newf("gputest: image copy of %d bytes overruns %d byte source", size, len(srcBytes))
			}
			copy(dstBytes[:size], srcBytes[region.BufferOffset:region.BufferOffset+size])
		}
		return nil
	})
}

func (c *commandBuffer) CmdPipelineBarrier(srcStage gpu.PipelineStageFlags, dstStage gpu.PipelineStageFlags, imageBarriers []gpu.ImageMemoryBarrier) {
	copied := append([]gpu.ImageMemoryBarrier(nil), imageBarriers...)

	c.record(func() error {
		for _, barrier := range copied {
			img := barrier.Image.(*image)
			if img.layout != barrier.OldLayout {
				return errors.Newf("gputest: barrier expects old layout %d but image is in layout %d", barrier.OldLayout, img.layout)
			}
			img.layout = barrier.NewLayout
		}
		return nil
	})
}

type queue struct {
	device *Device
	mu     sync.Mutex
}

func (q *queue) Submit(cb gpu.CommandBuffer, f gpu.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	recorded := cb.(*commandBuffer)
	recorded.mu.Lock()
	if !recorded.ended {
		recorded.mu.Unlock()
		return errors.New("gputest: Submit of a command buffer that was not ended")
	}
	commands := recorded.commands
	recorded.mu.Unlock()

	for _, cmd := range commands {
		if err := cmd(); err != nil {
			return err
		}
	}

	f.(*fence).signal()
	return nil
}

type fence struct {
	mu       sync.Mutex
	signaled bool
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled = true
}

func (f *fence) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		return errors.New("gputest: Wait on a fence with no pending submission")
	}
	return nil
}

func (f *fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signaled = false
	return nil
}

func (f *fence) Destroy() {}

// ImageLayout reports the current layout of an image created by this package,
// as driven by recorded pipeline barriers. Test helper.
func ImageLayout(img gpu.Image) gpu.ImageLayout {
	return img.(*image).Layout()
}
