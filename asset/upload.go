package asset

import (
	"github.com/MyriadMinds/virtual-circus/allocator"
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/memory"
	"github.com/cockroachdb/errors"
)

// modelBufferUsage covers everything model geometry gets bound as. Device
// addresses are needed for descriptor-buffer binding tables; TransferSrc
// keeps the geometry readable back for debug capture.
const modelBufferUsage = gpu.BufferUsageVertexBuffer |
	gpu.BufferUsageIndexBuffer |
	gpu.BufferUsageShaderDeviceAddress |
	gpu.BufferUsageTransferSrc

// UploadModel dispatches the upload of a model source through the given
// allocator. Buffers and images are created in GPU-only memory with their
// transfer commands recorded; the returned request reaches Ready immediately,
// but the data is on the device only after the allocator's next Flush.
//
// On error, every resource created so far is destroyed and the request's
// remaining pipelines are closed, so a holder of the request observes
// ErrRequestBroken rather than waiting forever.
func UploadModel(alloc *allocator.Allocator, source *ModelSource) (*ModelRequest, error) {
	request := newModelRequest(source)

	buffers := make([]*allocator.Buffer, 0, len(source.BufferBlobs))
	for i, blob := range source.BufferBlobs {
		buffer, err := alloc.CreateBufferFromData(blob, modelBufferUsage, memory.ClassGPUOnly)
		if err != nil {
			destroyBuffers(buffers)
			request.fail()
			return nil, errors.Wrapf(err, "failed to upload buffer %d of model %s", i, source.Name)
		}
		buffers = append(buffers, buffer)
	}

	images := make([]*allocator.Image, 0, len(source.Images))
	for i, imageSource := range source.Images {
		image, err := alloc.CreateImage(imageSource.Pixels, gpu.ImageCreateInfo{
			Format: imageSource.Format,
			Extent: gpu.Extent3D{Width: imageSource.Width, Height: imageSource.Height, Depth: 1},
		}, allocator.ImagePurposeTexture)
		if err != nil {
			destroyImages(images)
			destroyBuffers(buffers)
			request.fail()
			return nil, errors.Wrapf(err, "failed to upload image %d of model %s", i, source.Name)
		}
		images = append(images, image)
	}

	request.completeBuffers(buffers)
	request.completeImages(images)
	return request, nil
}

func destroyBuffers(buffers []*allocator.Buffer) {
	for _, buffer := range buffers {
		buffer.Destroy()
	}
}

func destroyImages(images []*allocator.Image) {
	for _, image := range images {
		image.Destroy()
	}
}
