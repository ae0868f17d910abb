package vulkan

import (
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

var formatMapping = map[gpu.Format]core1_0.Format{
	gpu.FormatUndefined:          core1_0.FormatUndefined,
	gpu.FormatR8UInt:             core1_0.FormatR8UnsignedInt,
	gpu.FormatR8G8UInt:           core1_0.FormatR8G8UnsignedInt,
	gpu.FormatR8G8B8UInt:         core1_0.FormatR8G8B8UnsignedInt,
	gpu.FormatR8G8B8A8UInt:       core1_0.FormatR8G8B8A8UnsignedInt,
	gpu.FormatR8G8B8A8SRGB:       core1_0.FormatR8G8B8A8SRGB,
	gpu.FormatR16UInt:            core1_0.FormatR16UnsignedInt,
	gpu.FormatR16G16UInt:         core1_0.FormatR16G16UnsignedInt,
	gpu.FormatR16G16B16UInt:      core1_0.FormatR16G16B16UnsignedInt,
	gpu.FormatR16G16B16A16UInt:   core1_0.FormatR16G16B16A16UnsignedInt,
	gpu.FormatR32G32B32SFloat:    core1_0.FormatR32G32B32SignedFloat,
	gpu.FormatR32G32B32A32SFloat: core1_0.FormatR32G32B32A32SignedFloat,
	gpu.FormatD32SFloat:          core1_0.FormatD32SignedFloat,
}

var layoutMapping = map[gpu.ImageLayout]core1_0.ImageLayout{
	gpu.ImageLayoutUndefined:              core1_0.ImageLayoutUndefined,
	gpu.ImageLayoutTransferDstOptimal:     core1_0.ImageLayoutTransferDstOptimal,
	gpu.ImageLayoutShaderReadOnlyOptimal:  core1_0.ImageLayoutShaderReadOnlyOptimal,
	gpu.ImageLayoutDepthAttachmentOptimal: core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	gpu.ImageLayoutColorAttachmentOptimal: core1_0.ImageLayoutColorAttachmentOptimal,
}

func convertBufferUsage(usage gpu.BufferUsageFlags) core1_0.BufferUsageFlags {
	var flags core1_0.BufferUsageFlags
	if usage&gpu.BufferUsageTransferSrc != 0 {
		flags |= core1_0.BufferUsageTransferSrc
	}
	if usage&gpu.BufferUsageTransferDst != 0 {
		flags |= core1_0.BufferUsageTransferDst
	}
	if usage&gpu.BufferUsageUniformBuffer != 0 {
		flags |= core1_0.BufferUsageUniformBuffer
	}
	if usage&gpu.BufferUsageStorageBuffer != 0 {
		flags |= core1_0.BufferUsageStorageBuffer
	}
	if usage&gpu.BufferUsageIndexBuffer != 0 {
		flags |= core1_0.BufferUsageIndexBuffer
	}
	if usage&gpu.BufferUsageVertexBuffer != 0 {
		flags |= core1_0.BufferUsageVertexBuffer
	}
	if usage&gpu.BufferUsageShaderDeviceAddress != 0 {
		flags |= khr_buffer_device_address.BufferUsageShaderDeviceAddress
	}
	return flags
}

func convertImageUsage(usage gpu.ImageUsageFlags) core1_0.ImageUsageFlags {
	var flags core1_0.ImageUsageFlags
	if usage&gpu.ImageUsageTransferSrc != 0 {
		flags |= core1_0.ImageUsageTransferSrc
	}
	if usage&gpu.ImageUsageTransferDst != 0 {
		flags |= core1_0.ImageUsageTransferDst
	}
	if usage&gpu.ImageUsageSampled != 0 {
		flags |= core1_0.ImageUsageSampled
	}
	if usage&gpu.ImageUsageColorAttachment != 0 {
		flags |= core1_0.ImageUsageColorAttachment
	}
	if usage&gpu.ImageUsageDepthStencilAttachment != 0 {
		flags |= core1_0.ImageUsageDepthStencilAttachment
	}
	return flags
}

func convertAspect(aspect gpu.ImageAspectFlags) core1_0.ImageAspectFlags {
	var flags core1_0.ImageAspectFlags
	if aspect&gpu.ImageAspectColor != 0 {
		flags |= core1_0.ImageAspectColor
	}
	if aspect&gpu.ImageAspectDepth != 0 {
		flags |= core1_0.ImageAspectDepth
	}
	return flags
}

func convertAccess(access gpu.AccessFlags) core1_0.AccessFlags {
	var flags core1_0.AccessFlags
	if access&gpu.AccessTransferWrite != 0 {
		flags |= core1_0.AccessTransferWrite
	}
	if access&gpu.AccessTransferRead != 0 {
		flags |= core1_0.AccessTransferRead
	}
	if access&gpu.AccessShaderRead != 0 {
		flags |= core1_0.AccessShaderRead
	}
	return flags
}

func convertStage(stage gpu.PipelineStageFlags) core1_0.PipelineStageFlags {
	var flags core1_0.PipelineStageFlags
	if stage&gpu.StageTopOfPipe != 0 {
		flags |= core1_0.PipelineStageTopOfPipe
	}
	if stage&gpu.StageTransfer != 0 {
		flags |= core1_0.PipelineStageTransfer
	}
	if stage&gpu.StageFragmentShader != 0 {
		flags |= core1_0.PipelineStageFragmentShader
	}
	if stage&gpu.StageBottomOfPipe != 0 {
		flags |= core1_0.PipelineStageBottomOfPipe
	}
	return flags
}

func convertExtent(extent gpu.Extent3D) core1_0.Extent3D {
	return core1_0.Extent3D{
		Width:  extent.Width,
		Height: extent.Height,
		Depth:  extent.Depth,
	}
}

func convertSubresourceRange(r gpu.ImageSubresourceRange) core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     convertAspect(r.AspectMask),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func convertSubresourceLayers(l gpu.ImageSubresourceLayers) core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     convertAspect(l.AspectMask),
		MipLevel:       l.MipLevel,
		BaseArrayLayer: l.BaseArrayLayer,
		LayerCount:     l.LayerCount,
	}
}
