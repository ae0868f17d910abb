package vulkan

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

type commandPool struct {
	device  *Device
	pool    core1_0.CommandPool
	buffers []gpu.CommandBuffer
}

func (p *commandPool) CommandBuffer(index int) gpu.CommandBuffer {
	return p.buffers[index]
}

func (p *commandPool) Destroy() {
	p.pool.Destroy(p.device.callbacks)
}

type commandBuffer struct {
	buffer core1_0.CommandBuffer
}

func (c *commandBuffer) Begin() error {
	_, err := c.buffer.Begin(core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return errors.Wrap(err, "failed to begin command buffer")
	}
	return nil
}

func (c *commandBuffer) End() error {
	_, err := c.buffer.End()
	if err != nil {
		return errors.Wrap(err, "failed to end command buffer")
	}
	return nil
}

func (c *commandBuffer) Reset() error {
	_, err := c.buffer.Reset(0)
	if err != nil {
		return errors.Wrap(err, "failed to reset command buffer")
	}
	return nil
}

func (c *commandBuffer) CmdCopyBuffer(src gpu.Buffer, dst gpu.Buffer, regions []gpu.BufferCopy) {
	copyRegions := make([]core1_0.BufferCopy, len(regions))
	for i, region := range regions {
		copyRegions[i] = core1_0.BufferCopy{
			SrcOffset: region.SrcOffset,
			DstOffset: region.DstOffset,
			Size:      region.Size,
		}
	}

	_ = c.buffer.CmdCopyBuffer(src.(*buffer).buffer, dst.(*buffer).buffer, copyRegions)
}

func (c *commandBuffer) CmdCopyBufferToImage(src gpu.Buffer, dst gpu.Image, dstLayout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	copyRegions := make([]core1_0.BufferImageCopy, len(regions))
	for i, region := range regions {
		copyRegions[i] = core1_0.BufferImageCopy{
			BufferOffset:      region.BufferOffset,
			BufferRowLength:   region.BufferRowLength,
			BufferImageHeight: region.BufferImageHeight,
			ImageSubresource:  convertSubresourceLayers(region.ImageSubresource),
			ImageExtent:       convertExtent(region.ImageExtent),
		}
	}

	_ = c.buffer.CmdCopyBufferToImage(src.(*buffer).buffer, dst.(*image).image, layoutMapping[dstLayout], copyRegions)
}

func (c *commandBuffer) CmdPipelineBarrier(srcStage gpu.PipelineStageFlags, dstStage gpu.PipelineStageFlags, imageBarriers []gpu.ImageMemoryBarrier) {
	barriers := make([]core1_0.ImageMemoryBarrier, len(imageBarriers))
	for i, barrier := range imageBarriers {
		barriers[i] = core1_0.ImageMemoryBarrier{
			SrcAccessMask:       convertAccess(barrier.SrcAccessMask),
			DstAccessMask:       convertAccess(barrier.DstAccessMask),
			OldLayout:           layoutMapping[barrier.OldLayout],
			NewLayout:           layoutMapping[barrier.NewLayout],
			// -1 marks the barrier as not transferring queue ownership.
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               barrier.Image.(*image).image,
			SubresourceRange:    convertSubresourceRange(barrier.SubresourceRange),
		}
	}

	_ = c.buffer.CmdPipelineBarrier(convertStage(srcStage), convertStage(dstStage), 0, nil, nil, barriers)
}

type queue struct {
	queue core1_0.Queue
}

func (q *queue) Submit(cb gpu.CommandBuffer, signalFence gpu.Fence) error {
	_, err := q.queue.Submit(signalFence.(*fence).fence, []core1_0.SubmitInfo{
		{CommandBuffers: []core1_0.CommandBuffer{cb.(*commandBuffer).buffer}},
	})
	if err != nil {
		return errors.Wrap(err, "failed to submit command buffer")
	}
	return nil
}

type fence struct {
	device *Device
	fence  core1_0.Fence
}

func (f *fence) Wait() error {
	_, err := f.fence.Wait(common.NoTimeout)
	if err != nil {
		return errors.Wrap(err, "failed to wait for fence")
	}
	return nil
}

func (f *fence) Reset() error {
	_, err := f.fence.Reset()
	if err != nil {
		return errors.Wrap(err, "failed to reset fence")
	}
	return nil
}

func (f *fence) Destroy() {
	f.fence.Destroy(f.device.callbacks)
}
